package stream

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
)

func testSessionInfo() *SessionInfo {
	return &SessionInfo{
		ID:              "sess-1",
		Address:         "192.168.1.50",
		VideoPort:       51000,
		AudioPort:       51002,
		VideoReturnPort: 40000,
		AudioReturnPort: 40002,
		VideoSSRC:       111111,
		AudioSSRC:       222222,
		Video: MediaCrypto{
			Suite: "AES_CM_128_HMAC_SHA1_80",
			Key:   []byte("0123456789abcdef"),
			Salt:  []byte("0123456789abcd"),
		},
		Audio: MediaCrypto{
			Suite: "AES_CM_128_HMAC_SHA1_80",
			Key:   []byte("fedcba9876543210"),
			Salt:  []byte("dcba9876543210"),
		},
	}
}

func testStartRequest() StartRequest {
	return StartRequest{
		SessionID: "sess-1",
		Video: VideoParams{
			Width:       640,
			Height:      480,
			FPS:         10,
			MaxBitrate:  200,
			PayloadType: 99,
		},
		Audio: AudioParams{
			SampleRate:  16,
			MaxBitrate:  24,
			PayloadType: 110,
		},
	}
}

func TestSRTPParamsConcatenatesKeyAndSalt(t *testing.T) {
	crypto := MediaCrypto{Key: []byte("key!"), Salt: []byte("salt")}
	want := base64.StdEncoding.EncodeToString([]byte("key!salt"))
	if got := crypto.SRTPParams(); got != want {
		t.Fatalf("SRTPParams mismatch: got %q want %q", got, want)
	}
}

func TestBuildStreamArgsVideoOnly(t *testing.T) {
	cam := baseCamera()
	info := testSessionInfo()
	req := testStartRequest()
	res := NegotiateResolution(req.Video.Width, req.Video.Height, cam)

	args := BuildStreamArgs(cam, info, req, res, 200, 24)
	joined := strings.Join(args, " ")

	prefix := "-i rtsp://10.0.0.1/stream -map 0:0 -vcodec libx264 -pix_fmt yuv420p -r 10 -f rawvideo"
	if !strings.HasPrefix(joined, prefix) {
		t.Fatalf("expected args to start with %q, got %q", prefix, joined)
	}
	for _, want := range []string{
		"-vf scale=640:480",
		"-b:v 200k -bufsize 400k -maxrate 200k",
		"-payload_type 99",
		"-ssrc 111111",
		"-srtp_out_suite AES_CM_128_HMAC_SHA1_80",
		fmt.Sprintf("srtp://192.168.1.50:51000?rtcpport=51000&localrtcpport=51000&pkt_size=%d", cam.PacketSize),
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected args to contain %q, got %q", want, joined)
		}
	}
	for _, absent := range []string{"-acodec", "-loglevel", "-map 0:1"} {
		if strings.Contains(joined, absent) {
			t.Fatalf("did not expect %q in video-only args, got %q", absent, joined)
		}
	}
}

func TestBuildStreamArgsWithAudio(t *testing.T) {
	cam := baseCamera()
	cam.Audio = true
	info := testSessionInfo()
	req := testStartRequest()
	res := NegotiateResolution(req.Video.Width, req.Video.Height, cam)

	args := BuildStreamArgs(cam, info, req, res, 200, 24)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-map 0:1 -acodec libfdk_aac -profile:a aac_eld -flags +global_header -f null -ar 16k -b:a 24k -bufsize 24k -ac 1 -payload_type 110",
		"-ssrc 222222",
		"srtp://192.168.1.50:51002?rtcpport=51002&localrtcpport=51002&pkt_size=188",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected args to contain %q, got %q", want, joined)
		}
	}
}

func TestBuildStreamArgsCopyCodecSkipsFilter(t *testing.T) {
	cam := baseCamera()
	cam.VideoCodec = "copy"
	info := testSessionInfo()
	req := testStartRequest()
	res := NegotiateResolution(req.Video.Width, req.Video.Height, cam)

	args := BuildStreamArgs(cam, info, req, res, 200, 24)
	for _, arg := range args {
		if arg == "-vf" {
			t.Fatalf("copy codec must not carry a video filter: %v", args)
		}
	}
}

func TestBuildStreamArgsExtraAndDebug(t *testing.T) {
	cam := baseCamera()
	cam.ExtraArgs = "-fflags nobuffer"
	cam.Debug = true
	info := testSessionInfo()
	req := testStartRequest()
	res := NegotiateResolution(req.Video.Width, req.Video.Height, cam)

	args := BuildStreamArgs(cam, info, req, res, 200, 24)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-fflags nobuffer") {
		t.Fatalf("expected extra args in command line, got %q", joined)
	}
	if len(args) < 2 || args[len(args)-2] != "-loglevel" || args[len(args)-1] != "debug" {
		t.Fatalf("expected -loglevel debug as trailing args, got %v", args[len(args)-2:])
	}
}

func TestBuildSnapshotArgs(t *testing.T) {
	cam := baseCamera()
	cam.StillSource = "-i rtsp://10.0.0.1/still"
	res := NegotiateResolution(640, 480, cam)

	args := BuildSnapshotArgs(cam, res)
	joined := strings.Join(args, " ")

	if !strings.HasPrefix(joined, "-i rtsp://10.0.0.1/still") {
		t.Fatalf("expected still source to lead args, got %q", joined)
	}
	for _, want := range []string{"-frames:v 1", "-filter:v scale=640:480", "-f image2 -"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected snapshot args to contain %q, got %q", want, joined)
		}
	}
}

func TestBuildSnapshotArgsFallsBackToMainSource(t *testing.T) {
	cam := baseCamera()
	res := ResolutionInfo{Width: 640, Height: 480}

	args := BuildSnapshotArgs(cam, res)
	joined := strings.Join(args, " ")
	if !strings.HasPrefix(joined, "-i rtsp://10.0.0.1/stream") {
		t.Fatalf("expected main source fallback, got %q", joined)
	}
	if strings.Contains(joined, "-filter:v") {
		t.Fatalf("expected no filter without a directive, got %q", joined)
	}
}
