package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/twinscribe/twinscribe/internal/buildinfo"
	"github.com/twinscribe/twinscribe/internal/config"
	"github.com/twinscribe/twinscribe/internal/engine"
	"github.com/twinscribe/twinscribe/internal/server"
	"github.com/twinscribe/twinscribe/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults to TWINSCRIBE_CONFIG)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A .env in the working directory is a convenience, not a requirement.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Loader{Path: *configPath}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting daemon",
		"name", buildinfo.Info.Name,
		"version", buildinfo.Info.Version,
		"listen_addr", cfg.ListenAddr,
		"capture_dir", cfg.CaptureDir,
		"fast_backend", cfg.FastEngine.Backend,
		"accurate_backend", cfg.AccurateEngine.Backend,
	)

	recorder := telemetry.NewRecorder(logger)

	engines, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialise engines", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := engines.Close(); err != nil {
			logger.Warn("failed to close engines", "error", err)
		}
	}()

	srv := server.New(cfg, logger, engines, recorder)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown requested, stopping server")
		srv.StopActive()
		if err := srv.Shutdown(5 * time.Second); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
		}
	}()

	if err := srv.Listen(); err != nil {
		logger.Error("server terminated with error", "error", err)
		os.Exit(1)
	}

	if snapshot := recorder.Snapshot(); snapshot.TotalSessions > 0 {
		logger.Info("telemetry totals",
			"total_sessions", snapshot.TotalSessions,
			"completed_sessions", snapshot.CompletedSessions,
			"failed_sessions", snapshot.FailedSessions,
			"total_windows", snapshot.TotalWindows,
			"total_segments", snapshot.TotalSegments,
			"total_bytes", snapshot.TotalBytes,
		)
	}

	logger.Info("daemon stopped")
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
