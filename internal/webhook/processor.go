package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mauricioprb/run-ranking/internal/domain"
	"github.com/mauricioprb/run-ranking/internal/observability"
)

// TokenSource supplies a valid access token for a runner.
type TokenSource interface {
	EnsureValidAccessToken(ctx context.Context, runnerID int64) (string, error)
}

// ActivityFetcher retrieves a single upstream activity.
type ActivityFetcher interface {
	FetchActivity(ctx context.Context, accessToken string, activityID int64) (domain.Activity, error)
}

// Store is the persistence the processor touches.
type Store interface {
	GetRunner(ctx context.Context, runnerID int64) (*domain.Runner, error)
	UpsertActivities(ctx context.Context, activities []domain.Activity) error
	DeleteActivity(ctx context.Context, activityID int64) (bool, error)
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor is the Webhook Event Processor.
type Processor struct {
	tokens  TokenSource
	fetcher ActivityFetcher
	store   Store
	logger  *slog.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(tokens TokenSource, fetcher ActivityFetcher, store Store, opts ...Option) *Processor {
	p := &Processor{
		tokens:  tokens,
		fetcher: fetcher,
		store:   store,
		logger:  observability.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessEvent applies the minimal mutation an event requires. It never runs a full
// reconciliation.
func (p *Processor) ProcessEvent(ctx context.Context, event Event) error {
	action := Classify(event)
	err := p.apply(ctx, action)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordWebhookEvent(action.Kind.String(), outcome)
	return err
}

func (p *Processor) apply(ctx context.Context, action Action) error {
	logger := p.logger.With(
		slog.String("action", action.Kind.String()),
		slog.Int64("activity_id", action.ActivityID),
		slog.Int64("owner_id", action.OwnerID),
	)

	switch action.Kind {
	case ActivityDeleted:
		existed, err := p.store.DeleteActivity(ctx, action.ActivityID)
		if err != nil {
			return domain.StoreFailure("delete activity", err)
		}
		logger.Info("webhook delete applied", slog.Bool("existed", existed))
		return nil

	case ActivityChanged:
		runner, err := p.store.GetRunner(ctx, action.OwnerID)
		if err != nil {
			return domain.StoreFailure("load runner", err)
		}
		if runner == nil {
			return fmt.Errorf("%w: %d", domain.ErrRunnerNotFound, action.OwnerID)
		}
		if !runner.Active {
			logger.Debug("owner inactive, event skipped")
			return nil
		}

		token, err := p.tokens.EnsureValidAccessToken(ctx, action.OwnerID)
		if err != nil {
			return err
		}
		activity, err := p.fetcher.FetchActivity(ctx, token, action.ActivityID)
		if errors.Is(err, domain.ErrActivityNotFound) {
			logger.Warn("activity no longer available upstream", slog.String("error", err.Error()))
			return nil
		}
		if err != nil {
			return err
		}
		if !activity.IsRun() {
			logger.Debug("non-run activity skipped", slog.String("type", activity.Type))
			return nil
		}

		activity.RunnerID = action.OwnerID
		if err := p.store.UpsertActivities(ctx, []domain.Activity{activity}); err != nil {
			return domain.StoreFailure("upsert activity", err)
		}
		logger.Info("webhook upsert applied")
		return nil

	default:
		logger.Debug("event ignored")
		return nil
	}
}
