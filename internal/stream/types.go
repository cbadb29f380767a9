package stream

import (
	"encoding/base64"
	"net"
)

// AddressFamily selects the IP family used for the return path advertised to
// the remote endpoint.
type AddressFamily string

const (
	FamilyIPv4 AddressFamily = "ipv4"
	FamilyIPv6 AddressFamily = "ipv6"
)

// MediaCrypto carries the SRTP material negotiated for one media stream.
type MediaCrypto struct {
	Suite string
	Key   []byte
	Salt  []byte
}

// SRTPParams renders the key and salt as the base64 blob ffmpeg expects for
// -srtp_out_params.
func (c MediaCrypto) SRTPParams() string {
	material := make([]byte, 0, len(c.Key)+len(c.Salt))
	material = append(material, c.Key...)
	material = append(material, c.Salt...)
	return base64.StdEncoding.EncodeToString(material)
}

// SetupRequest is the transport negotiation request delivered by the host
// framework before a stream starts.
type SetupRequest struct {
	SessionID string
	Address   string
	Family    AddressFamily
	VideoPort int
	AudioPort int
	Video     MediaCrypto
	Audio     MediaCrypto
}

// SetupResponse advertises the local return path and the synchronization
// sources the remote endpoint should expect, echoing the crypto material back.
type SetupResponse struct {
	Address         string
	VideoReturnPort int
	AudioReturnPort int
	VideoSSRC       uint32
	AudioSSRC       uint32
	Video           MediaCrypto
	Audio           MediaCrypto
}

// VideoParams are the stream parameters requested by the remote device.
type VideoParams struct {
	Width       int
	Height      int
	FPS         int
	MaxBitrate  int
	PayloadType int
}

// AudioParams mirror VideoParams for the audio stream. SampleRate is in kHz.
type AudioParams struct {
	SampleRate  int
	MaxBitrate  int
	PayloadType int
}

// StartRequest asks the manager to launch the transcoder for a previously
// set-up session.
type StartRequest struct {
	SessionID string
	Video     VideoParams
	Audio     AudioParams
}

// SessionInfo records the transport state negotiated for one session. It is
// created by Setup and owned by the Manager until the session ends.
type SessionInfo struct {
	ID              string
	Address         string
	Family          AddressFamily
	VideoPort       int
	AudioPort       int
	VideoReturnPort int
	AudioReturnPort int
	VideoSSRC       uint32
	AudioSSRC       uint32
	Video           MediaCrypto
	Audio           MediaCrypto

	// Return-path sockets held for the session lifetime. The video socket
	// doubles as the readiness listener once the transcoder is spawned.
	videoConn *net.UDPConn
	audioConn *net.UDPConn
}

func (s *SessionInfo) closePorts() {
	if s.videoConn != nil {
		_ = s.videoConn.Close()
	}
	if s.audioConn != nil {
		_ = s.audioConn.Close()
	}
}

// ResolutionInfo is the negotiated output geometry plus the ffmpeg video
// filter chain derived from the camera configuration.
type ResolutionInfo struct {
	Width       int
	Height      int
	VideoFilter string
}
