package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mauricioprb/run-ranking/internal/bootstrap"
	"github.com/mauricioprb/run-ranking/internal/config"
	"github.com/mauricioprb/run-ranking/internal/observability"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("sync failed", slog.Any("error", err))
		observability.FlushSentry(2 * time.Second)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.UsesDefaultJWTSecret() {
		logger.Warn("JWT_SECRET not set, bearer tokens are verified with the local-dev secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := observability.InitSentry(observability.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
	}, logger); err != nil {
		logger.Warn("sentry disabled", slog.Any("error", err))
	}
	defer observability.FlushSentry(2 * time.Second)

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := bootstrap.NewEngine(cfg, store, logger)
	if err != nil {
		return err
	}

	report, err := engine.Fleet.SynchronizeAll(ctx)
	if err != nil {
		observability.CaptureError(err, map[string]string{"component": "syncer"})
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
