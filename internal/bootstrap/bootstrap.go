// Package bootstrap assembles the synchronization engine from configuration. It is
// shared by the api, consumer and syncer binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mauricioprb/run-ranking/internal/config"
	"github.com/mauricioprb/run-ranking/internal/domain"
	"github.com/mauricioprb/run-ranking/internal/fleet"
	"github.com/mauricioprb/run-ranking/internal/persistence/memory"
	"github.com/mauricioprb/run-ranking/internal/persistence/postgres"
	"github.com/mauricioprb/run-ranking/internal/persistence/sqlite"
	"github.com/mauricioprb/run-ranking/internal/reconcile"
	"github.com/mauricioprb/run-ranking/internal/strava"
	"github.com/mauricioprb/run-ranking/internal/tokens"
	"github.com/mauricioprb/run-ranking/internal/webhook"
)

// OpenStore opens the store selected by cfg.StoreDriver. The returned func releases it.
func OpenStore(ctx context.Context, cfg config.Config) (domain.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return postgres.NewRepository(pool), pool.Close, nil
	case config.StoreSQLite:
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	case config.StoreMemory:
		return memory.NewRepository(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Engine holds the wired synchronization components.
type Engine struct {
	Client     *strava.Client
	Tokens     *tokens.Manager
	Reconciler *reconcile.Engine
	Fleet      *fleet.Synchronizer
	Webhooks   *webhook.Processor
	Service    *domain.Service
}

// NewEngine wires the Strava client, token manager, reconciliation engine, fleet
// synchronizer and webhook processor over store.
func NewEngine(cfg config.Config, store domain.Store, logger *slog.Logger) (*Engine, error) {
	client, err := strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		BaseURL:      cfg.StravaBaseURL,
		TokenURL:     cfg.StravaTokenURL,
		AuthorizeURL: cfg.StravaAuthorizeURL,
		RedirectURL:  cfg.StravaRedirectURL,
		PageSize:     cfg.StravaPageSize,
		MaxPages:     cfg.StravaMaxPages,
		Timeout:      cfg.StravaHTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("strava client: %w", err)
	}

	manager := tokens.NewManager(store, client,
		tokens.WithLogger(logger.With(slog.String("component", "tokens"))),
		tokens.WithRefreshMargin(cfg.TokenRefreshMargin),
	)
	reconciler := reconcile.NewEngine(manager, client, store,
		reconcile.WithLogger(logger.With(slog.String("component", "reconcile"))),
		reconcile.WithLookbackYears(cfg.SyncLookbackYears),
	)
	synchronizer := fleet.NewSynchronizer(store, reconciler,
		fleet.WithLogger(logger.With(slog.String("component", "fleet"))),
		fleet.WithConcurrency(cfg.SyncConcurrency),
	)
	processor := webhook.NewProcessor(manager, client, store,
		webhook.WithLogger(logger.With(slog.String("component", "webhook"))),
	)

	return &Engine{
		Client:     client,
		Tokens:     manager,
		Reconciler: reconciler,
		Fleet:      synchronizer,
		Webhooks:   processor,
		Service:    domain.NewService(store),
	}, nil
}
