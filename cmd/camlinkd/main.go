// Command camlinkd runs the camera streaming control daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"camlink/internal/api"
	"camlink/internal/config"
	"camlink/internal/observability/logging"
	"camlink/internal/observability/metrics"
	"camlink/internal/server"
	"camlink/internal/stream"
)

const defaultConfigPath = "configs/camlink.yaml"

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format override (json, text, console)")
	flag.Parse()

	path := firstNonEmpty(*configPath, os.Getenv("CAMLINK_CONFIG"), defaultConfigPath)

	cfg, err := config.Load(path)
	if err != nil {
		logging.Init(logging.Config{Format: string(logging.FormatJSON)}).Error("failed to load configuration", "path", path, "error", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, cfg.Logging.Level),
		Format: firstNonEmpty(*logFormat, cfg.Logging.Format),
	})
	recorder := metrics.Default()

	managers := make(map[string]*stream.Manager, len(cfg.Cameras))
	for i := range cfg.Cameras {
		cam := cfg.Cameras[i]
		managers[cam.Name] = stream.NewManager(stream.ManagerConfig{
			Camera:          cam,
			FFmpegPath:      cfg.FFmpegPath,
			Interface:       cfg.Interface,
			ReadyTimeout:    cfg.ReadyTimeout,
			StopGrace:       cfg.StopGrace,
			SnapshotTimeout: cfg.SnapshotTimeout,
			Logger:          logging.WithComponent(logger, "stream"),
			Metrics:         recorder,
		})
		logger.Info("camera configured", "camera", cam.Name, "max_streams", cam.MaxStreams)
	}

	handler := api.NewHandler(managers, logging.WithComponent(logger, "api"))

	srv, err := server.New(handler, server.Config{
		Addr: cfg.ListenAddr,
		TLS: server.TLSConfig{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		},
		Auth: server.AuthConfig{TokenHash: cfg.ControlTokenHash},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:   cfg.RateLimit.GlobalRPS,
			GlobalBurst: cfg.RateLimit.GlobalBurst,
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("camlink control API listening", "addr", cfg.ListenAddr, "cameras", len(managers))
	if cfg.TLS.CertFile != "" {
		logger.Info("TLS enabled", "cert_file", cfg.TLS.CertFile)
	}
	if cfg.ControlTokenHash == "" {
		logger.Warn("control token not configured, API is unauthenticated")
	}

	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	group, groupCtx := errgroup.WithContext(shutdownCtx)
	for name, manager := range managers {
		name, manager := name, manager
		group.Go(func() error {
			manager.Shutdown(groupCtx)
			logger.Debug("camera shut down", "camera", name)
			return nil
		})
	}
	_ = group.Wait()

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("camlink stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
