package stream

import (
	"fmt"
	"strconv"
	"strings"

	"camlink/internal/config"
)

// Packet size for the audio SRTP leg. Audio always uses the small MTU rather
// than the configurable video packet size.
const audioPacketSize = 188

// BuildStreamArgs composes the full transcoder argument list for a streaming
// session. The flag names, ordering, and unit suffixes form the wire contract
// with ffmpeg's argument parser and must not be reordered.
func BuildStreamArgs(cam config.Camera, info *SessionInfo, req StartRequest, res ResolutionInfo, videoBitrate, audioBitrate int) []string {
	fps := NegotiateFPS(req.Video.FPS, cam)

	args := append([]string{}, strings.Fields(cam.Source)...)
	args = append(args,
		"-map", cam.MapVideo,
		"-vcodec", cam.VideoCodec,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-f", "rawvideo",
	)
	args = append(args, strings.Fields(cam.ExtraArgs)...)
	if cam.VideoCodec != "copy" && res.VideoFilter != "" {
		args = append(args, "-vf", res.VideoFilter)
	}
	args = append(args,
		"-b:v", kilobits(videoBitrate),
		"-bufsize", kilobits(2*videoBitrate),
		"-maxrate", kilobits(videoBitrate),
		"-payload_type", strconv.Itoa(req.Video.PayloadType),
	)
	args = append(args, srtpOutput(info.VideoSSRC, info.Video, info.Address, info.VideoPort, cam.PacketSize)...)

	if cam.Audio {
		args = append(args,
			"-map", cam.MapAudio,
			"-acodec", "libfdk_aac",
			"-profile:a", "aac_eld",
			"-flags", "+global_header",
			"-f", "null",
			"-ar", kilobits(req.Audio.SampleRate),
			"-b:a", kilobits(audioBitrate),
			"-bufsize", kilobits(audioBitrate),
			"-ac", "1",
			"-payload_type", strconv.Itoa(req.Audio.PayloadType),
		)
		args = append(args, srtpOutput(info.AudioSSRC, info.Audio, info.Address, info.AudioPort, audioPacketSize)...)
	}

	if cam.Debug {
		args = append(args, "-loglevel", "debug")
	}
	return args
}

// BuildSnapshotArgs composes the one-shot still-image argument list. The
// single frame is written to stdout as an image2 stream; there is no RTP or
// crypto segment.
func BuildSnapshotArgs(cam config.Camera, res ResolutionInfo) []string {
	source := cam.StillSource
	if strings.TrimSpace(source) == "" {
		source = cam.Source
	}

	args := append([]string{}, strings.Fields(source)...)
	args = append(args, "-frames:v", "1")
	if res.VideoFilter != "" {
		args = append(args, "-filter:v", res.VideoFilter)
	}
	args = append(args, "-f", "image2", "-")
	if cam.Debug {
		args = append(args, "-loglevel", "debug")
	}
	return args
}

// srtpOutput emits the shared synchronization/crypto/destination tail used by
// both media legs: ssrc, RTP framing, SRTP suite and key material, and the
// srtp:// destination URI with matching RTCP ports.
func srtpOutput(ssrc uint32, crypto MediaCrypto, address string, port, packetSize int) []string {
	return []string{
		"-ssrc", strconv.FormatUint(uint64(ssrc), 10),
		"-f", "rtp",
		"-srtp_out_suite", crypto.Suite,
		"-srtp_out_params", crypto.SRTPParams(),
		fmt.Sprintf("srtp://%s:%d?rtcpport=%d&localrtcpport=%d&pkt_size=%d", address, port, port, port, packetSize),
	}
}

func kilobits(value int) string {
	return strconv.Itoa(value) + "k"
}
