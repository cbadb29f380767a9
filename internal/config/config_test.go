package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camlink.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
cameras:
  - name: front-door
    source: "-rtsp_transport tcp -i rtsp://10.0.0.1/stream"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.ListenAddr != ":8280" {
		t.Fatalf("expected default listen address, got %q", cfg.ListenAddr)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Fatalf("expected default ffmpeg path, got %q", cfg.FFmpegPath)
	}
	if cfg.ReadyTimeout != 10*time.Second || cfg.StopGrace != 5*time.Second || cfg.SnapshotTimeout != 15*time.Second {
		t.Fatalf("unexpected timeout defaults: %v %v %v", cfg.ReadyTimeout, cfg.StopGrace, cfg.SnapshotTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}

	cam := cfg.Cameras[0]
	if cam.MaxStreams != 2 || cam.MaxWidth != 1280 || cam.MaxHeight != 720 {
		t.Fatalf("unexpected camera cap defaults: %+v", cam)
	}
	if cam.MaxFPS != 10 || cam.MaxBitrate != 300 || cam.PacketSize != 1316 {
		t.Fatalf("unexpected camera rate defaults: %+v", cam)
	}
	if cam.VideoCodec != "libx264" || cam.MapVideo != "0:0" || cam.MapAudio != "0:1" {
		t.Fatalf("unexpected camera codec defaults: %+v", cam)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
ffmpeg_path: /opt/ffmpeg/bin/ffmpeg
interface: eth1
ready_timeout: 4s
stop_grace: 2s
snapshot_timeout: 8s
logging:
  level: debug
  format: console
rate_limit:
  global_rps: 50
  global_burst: 100
cameras:
  - name: garden
    source: "-i rtsp://10.0.0.2/stream"
    still_source: "-i http://10.0.0.2/still.jpg"
    max_streams: 1
    max_width: 1920
    max_height: 1080
    max_fps: 15
    max_bitrate: 600
    min_bitrate: 120
    video_codec: copy
    aspect_mode: width
    audio: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.Interface != "eth1" {
		t.Fatalf("unexpected daemon fields: %+v", cfg)
	}
	if cfg.ReadyTimeout != 4*time.Second || cfg.StopGrace != 2*time.Second || cfg.SnapshotTimeout != 8*time.Second {
		t.Fatalf("unexpected timeouts: %v %v %v", cfg.ReadyTimeout, cfg.StopGrace, cfg.SnapshotTimeout)
	}
	if cfg.RateLimit.GlobalRPS != 50 || cfg.RateLimit.GlobalBurst != 100 {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}

	cam := cfg.Cameras[0]
	if cam.Name != "garden" || cam.StillSource == "" || !cam.Audio {
		t.Fatalf("unexpected camera: %+v", cam)
	}
	if cam.VideoCodec != "copy" || cam.AspectMode != AspectWidth {
		t.Fatalf("unexpected camera video fields: %+v", cam)
	}
	if cam.MaxStreams != 1 || cam.MinBitrate != 120 {
		t.Fatalf("unexpected camera limits: %+v", cam)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CAMLINK_LISTEN_ADDR", ":9443")
	t.Setenv("CAMLINK_FFMPEG", "/usr/local/bin/ffmpeg")
	t.Setenv("CAMLINK_LOG_LEVEL", "debug")
	t.Setenv("CAMLINK_READY_TIMEOUT", "30s")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ListenAddr != ":9443" {
		t.Fatalf("expected env listen address, got %q", cfg.ListenAddr)
	}
	if cfg.FFmpegPath != "/usr/local/bin/ffmpeg" {
		t.Fatalf("expected env ffmpeg path, got %q", cfg.FFmpegPath)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env log level, got %q", cfg.Logging.Level)
	}
	if cfg.ReadyTimeout != 30*time.Second {
		t.Fatalf("expected env ready timeout, got %v", cfg.ReadyTimeout)
	}
}

func TestLoadRejectsBadDurationEnv(t *testing.T) {
	t.Setenv("CAMLINK_STOP_GRACE", "soon")

	if _, err := Load(writeConfig(t, minimalConfig)); err == nil {
		t.Fatal("expected error for unparseable duration override")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "cameras: [unclosed")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{
			name:  "no cameras",
			body:  "listen_addr: \":8280\"\n",
			field: "cameras",
		},
		{
			name: "duplicate names",
			body: `
cameras:
  - name: cam
    source: "-i rtsp://a/stream"
  - name: cam
    source: "-i rtsp://b/stream"
`,
			field: "cameras",
		},
		{
			name: "missing name",
			body: `
cameras:
  - source: "-i rtsp://a/stream"
`,
			field: "camera.name",
		},
		{
			name: "missing source",
			body: `
cameras:
  - name: cam
`,
			field: "camera.source",
		},
		{
			name: "bad aspect mode",
			body: `
cameras:
  - name: cam
    source: "-i rtsp://a/stream"
    aspect_mode: stretch
`,
			field: "camera.aspect_mode",
		},
		{
			name: "min above max bitrate",
			body: `
cameras:
  - name: cam
    source: "-i rtsp://a/stream"
    min_bitrate: 500
    max_bitrate: 300
`,
			field: "camera.min_bitrate",
		},
		{
			name: "tls cert without key",
			body: `
tls:
  cert_file: /etc/camlink/tls.crt
cameras:
  - name: cam
    source: "-i rtsp://a/stream"
`,
			field: "tls",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, cfgErr.Field)
			}
			if !strings.Contains(cfgErr.Error(), tc.field) {
				t.Fatalf("error message %q does not name the field", cfgErr.Error())
			}
		})
	}
}
