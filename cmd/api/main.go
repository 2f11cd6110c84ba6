package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mauricioprb/run-ranking/internal/api"
	"github.com/mauricioprb/run-ranking/internal/auth"
	"github.com/mauricioprb/run-ranking/internal/bootstrap"
	"github.com/mauricioprb/run-ranking/internal/config"
	"github.com/mauricioprb/run-ranking/internal/eventqueue"
	"github.com/mauricioprb/run-ranking/internal/observability"
	httptransport "github.com/mauricioprb/run-ranking/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", slog.Any("error", err))
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	events := api.EventSink(engine.Webhooks.ProcessEvent)
	if cfg.WebhookMode == config.WebhookQueue {
		publisher := eventqueue.NewPublisher(eventqueue.NewKafkaWriter(cfg.KafkaBrokers, cfg.WebhookTopic))
		defer publisher.Close()
		events = publisher.Publish
	}

	handler := api.NewHandler(api.Dependencies{
		Sync:        engine.Fleet,
		Events:      events,
		EventMode:   cfg.WebhookMode,
		VerifyToken: cfg.StravaVerifyToken,
		Authorizer:  engine.Client,
		Logins:      engine.Tokens,
		Rankings:    engine.Service,
		Trigger:     auth.NewTriggerAuthorizer(cfg.SyncSecret, auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}),
		JWT:         auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		Logger:      logger.With(slog.String("component", "http")),
	})
	router := handler.Router()

	servers := []*http.Server{}
	if cfg.MetricsAddress != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, httptransport.NewServer(httptransport.DefaultServerConfig(cfg.MetricsAddress), metricsMux))
	} else {
		router.Handle("/metrics", promhttp.Handler())
	}
	servers = append(servers, httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), router))

	errCh := make(chan error, len(servers))
	for _, server := range servers {
		go func(server *http.Server) {
			logger.Info("listening", slog.String("address", server.Addr), slog.String("webhook_mode", cfg.WebhookMode))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(server)
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-shutdownCh:
	case serveErr = <-errCh:
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", slog.String("address", server.Addr), slog.Any("error", err))
		}
	}
	return serveErr
}
