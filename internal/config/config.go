// Package config loads and validates the camlink daemon configuration: the
// control server settings plus the per-camera video configuration consumed by
// the stream session managers. Cameras are declared in a YAML file; a small
// set of CAMLINK_* environment variables override the daemon-level fields so
// deployments can tweak runtime behaviour without editing the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigurationError reports an invalid or missing configuration value. It
// fails daemon or camera initialisation rather than an individual request.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Config is the top-level daemon configuration.
type Config struct {
	ListenAddr       string        `yaml:"listen_addr"`
	ControlTokenHash string        `yaml:"control_token_hash"`
	FFmpegPath       string        `yaml:"ffmpeg_path"`
	Interface        string        `yaml:"interface"`
	ReadyTimeout     time.Duration `yaml:"ready_timeout"`
	StopGrace        time.Duration `yaml:"stop_grace"`
	SnapshotTimeout  time.Duration `yaml:"snapshot_timeout"`
	Logging          Logging       `yaml:"logging"`
	RateLimit        RateLimit     `yaml:"rate_limit"`
	TLS              TLS           `yaml:"tls"`
	Cameras          []Camera      `yaml:"cameras"`
}

// Logging controls the slog handler installed at startup.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimit bounds the request rate accepted by the control API.
type RateLimit struct {
	GlobalRPS   float64 `yaml:"global_rps"`
	GlobalBurst int     `yaml:"global_burst"`
}

// TLS holds certificate paths for the control listener.
type TLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Camera describes one camera's media source and transcoding caps. The struct
// is read-only for the lifetime of a camera instance.
type Camera struct {
	Name           string `yaml:"name"`
	Source         string `yaml:"source"`
	StillSource    string `yaml:"still_source"`
	MaxStreams     int    `yaml:"max_streams"`
	MaxWidth       int    `yaml:"max_width"`
	MaxHeight      int    `yaml:"max_height"`
	MaxFPS         int    `yaml:"max_fps"`
	MaxBitrate     int    `yaml:"max_bitrate"`
	MinBitrate     int    `yaml:"min_bitrate"`
	PacketSize     int    `yaml:"packet_size"`
	VideoCodec     string `yaml:"video_codec"`
	VideoFilter    string `yaml:"video_filter"`
	HorizontalFlip bool   `yaml:"horizontal_flip"`
	VerticalFlip   bool   `yaml:"vertical_flip"`
	AspectMode     string `yaml:"aspect_mode"`
	MapVideo       string `yaml:"map_video"`
	MapAudio       string `yaml:"map_audio"`
	ExtraArgs      string `yaml:"extra_args"`
	Audio          bool   `yaml:"audio"`
	Debug          bool   `yaml:"debug"`
}

// Aspect-preservation modes accepted by Camera.AspectMode.
const (
	AspectNone   = ""
	AspectWidth  = "width"
	AspectHeight = "height"
)

// Load reads the YAML configuration file, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if addr := strings.TrimSpace(os.Getenv("CAMLINK_LISTEN_ADDR")); addr != "" {
		c.ListenAddr = addr
	}
	if token := strings.TrimSpace(os.Getenv("CAMLINK_CONTROL_TOKEN_HASH")); token != "" {
		c.ControlTokenHash = token
	}
	if path := strings.TrimSpace(os.Getenv("CAMLINK_FFMPEG")); path != "" {
		c.FFmpegPath = path
	}
	if iface := strings.TrimSpace(os.Getenv("CAMLINK_INTERFACE")); iface != "" {
		c.Interface = iface
	}
	if level := strings.TrimSpace(os.Getenv("CAMLINK_LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("CAMLINK_LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}

	for _, override := range []struct {
		env  string
		dest *time.Duration
	}{
		{"CAMLINK_READY_TIMEOUT", &c.ReadyTimeout},
		{"CAMLINK_STOP_GRACE", &c.StopGrace},
		{"CAMLINK_SNAPSHOT_TIMEOUT", &c.SnapshotTimeout},
	} {
		raw := strings.TrimSpace(os.Getenv(override.env))
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", override.env, err)
		}
		if parsed > 0 {
			*override.dest = parsed
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8280"
	}
	if strings.TrimSpace(c.FFmpegPath) == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 15 * time.Second
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = "json"
	}
	for i := range c.Cameras {
		c.Cameras[i].applyDefaults()
	}
}

func (cam *Camera) applyDefaults() {
	if cam.MaxStreams <= 0 {
		cam.MaxStreams = 2
	}
	if cam.MaxWidth <= 0 {
		cam.MaxWidth = 1280
	}
	if cam.MaxHeight <= 0 {
		cam.MaxHeight = 720
	}
	if cam.MaxFPS <= 0 {
		cam.MaxFPS = 10
	}
	if cam.MaxBitrate <= 0 {
		cam.MaxBitrate = 300
	}
	if cam.PacketSize <= 0 {
		cam.PacketSize = 1316
	}
	if strings.TrimSpace(cam.VideoCodec) == "" {
		cam.VideoCodec = "libx264"
	}
	if strings.TrimSpace(cam.MapVideo) == "" {
		cam.MapVideo = "0:0"
	}
	if strings.TrimSpace(cam.MapAudio) == "" {
		cam.MapAudio = "0:1"
	}
}

// Validate checks the configuration for structural problems. Camera problems
// surface as ConfigurationError values naming the offending field.
func (c *Config) Validate() error {
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return &ConfigurationError{Field: "tls", Reason: "cert_file and key_file must both be set"}
	}
	if len(c.Cameras) == 0 {
		return &ConfigurationError{Field: "cameras", Reason: "at least one camera is required"}
	}

	seen := make(map[string]struct{}, len(c.Cameras))
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if err := cam.Validate(); err != nil {
			return err
		}
		if _, dup := seen[cam.Name]; dup {
			return &ConfigurationError{Field: "cameras", Reason: fmt.Sprintf("duplicate camera name %q", cam.Name)}
		}
		seen[cam.Name] = struct{}{}
	}
	return nil
}

// Validate checks a single camera entry.
func (cam *Camera) Validate() error {
	if strings.TrimSpace(cam.Name) == "" {
		return &ConfigurationError{Field: "camera.name", Reason: "camera name is required"}
	}
	if strings.TrimSpace(cam.Source) == "" {
		return &ConfigurationError{Field: "camera.source", Reason: fmt.Sprintf("camera %q has no source", cam.Name)}
	}
	switch cam.AspectMode {
	case AspectNone, AspectWidth, AspectHeight:
	default:
		return &ConfigurationError{
			Field:  "camera.aspect_mode",
			Reason: fmt.Sprintf("camera %q has invalid aspect mode %q (must be empty, %q, or %q)", cam.Name, cam.AspectMode, AspectWidth, AspectHeight),
		}
	}
	if cam.MinBitrate < 0 {
		return &ConfigurationError{Field: "camera.min_bitrate", Reason: fmt.Sprintf("camera %q has negative min_bitrate", cam.Name)}
	}
	if cam.MinBitrate > 0 && cam.MaxBitrate > 0 && cam.MinBitrate > cam.MaxBitrate {
		return &ConfigurationError{Field: "camera.min_bitrate", Reason: fmt.Sprintf("camera %q min_bitrate exceeds max_bitrate", cam.Name)}
	}
	return nil
}
