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
	"github.com/segmentio/kafka-go"

	"github.com/mauricioprb/run-ranking/internal/bootstrap"
	"github.com/mauricioprb/run-ranking/internal/config"
	"github.com/mauricioprb/run-ranking/internal/consumer"
	"github.com/mauricioprb/run-ranking/internal/observability"
	httptransport "github.com/mauricioprb/run-ranking/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer exited", slog.Any("error", err))
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

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.MetricsAddress), mux)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", slog.Any("error", err))
			}
		}()
		defer server.Close()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.ConsumerGroupID,
		Topic:    cfg.WebhookTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	defer reader.Close()

	processor := consumer.NewProcessor(reader, consumer.NewWebhookHandler(engine.Webhooks),
		consumer.WithLogger(logger.With(slog.String("component", "consumer"))),
	)

	logger.Info("consuming webhook events",
		slog.String("topic", cfg.WebhookTopic),
		slog.String("group_id", cfg.ConsumerGroupID),
	)
	return processor.Run(ctx)
}
