// Package reconcile brings a runner's local activities in line with the upstream set.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mauricioprb/run-ranking/internal/domain"
	"github.com/mauricioprb/run-ranking/internal/observability"
)

// TokenSource supplies a valid access token for a runner.
type TokenSource interface {
	EnsureValidAccessToken(ctx context.Context, runnerID int64) (string, error)
}

// ActivityLister lists a runner's upstream activities.
type ActivityLister interface {
	ListActivities(ctx context.Context, accessToken string, after time.Time) (domain.ActivityListing, error)
}

// Outcome summarises one reconciliation pass.
type Outcome struct {
	Fetched   int
	Upserted  int
	Deleted   int
	Truncated bool
}

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLookbackYears sets the sync window horizon.
func WithLookbackYears(years int) Option {
	return func(e *Engine) {
		if years > 0 {
			e.lookbackYears = years
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine is the Reconciliation Engine.
type Engine struct {
	tokens        TokenSource
	remote        ActivityLister
	store         domain.ActivityStore
	lookbackYears int
	now           func() time.Time
	logger        *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(tokens TokenSource, remote ActivityLister, store domain.ActivityStore, opts ...Option) *Engine {
	e := &Engine{
		tokens:        tokens,
		remote:        remote,
		store:         store,
		lookbackYears: domain.DefaultLookbackYears,
		now:           time.Now,
		logger:        observability.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReconcileRunner diffs the runner's upstream runs against the local store inside the
// sync window, deleting vanished activities and upserting new or changed ones.
// Re-running it against an unchanged upstream set performs no mutations.
func (e *Engine) ReconcileRunner(ctx context.Context, runnerID int64) (Outcome, error) {
	outcome, err := e.reconcile(ctx, runnerID)
	if err != nil {
		return outcome, fmt.Errorf("reconcile runner %d: %w", runnerID, err)
	}
	observability.RecordActivityMutations(outcome.Upserted, outcome.Deleted)
	return outcome, nil
}

func (e *Engine) reconcile(ctx context.Context, runnerID int64) (Outcome, error) {
	var outcome Outcome

	token, err := e.tokens.EnsureValidAccessToken(ctx, runnerID)
	if err != nil {
		return outcome, err
	}

	// The upstream after filter is exclusive while the local window is inclusive, so the
	// remote query starts one second early and anything before since is dropped below.
	since := domain.WindowStart(e.now(), e.lookbackYears)
	listing, err := e.remote.ListActivities(ctx, token, since.Add(-time.Second))
	if err != nil {
		return outcome, err
	}
	outcome.Fetched = len(listing.Activities)
	outcome.Truncated = listing.Truncated

	remote := make(map[int64]domain.Activity)
	for _, activity := range domain.FilterRuns(listing.Activities) {
		if activity.StartDate.Before(since) {
			continue
		}
		activity.RunnerID = runnerID
		remote[activity.ID] = activity
	}

	local, err := e.store.ListActivitiesSince(ctx, runnerID, since)
	if err != nil {
		return outcome, domain.StoreFailure("list local activities", err)
	}
	localByID := make(map[int64]domain.Activity, len(local))
	toRemove := make([]int64, 0)
	for _, activity := range local {
		localByID[activity.ID] = activity
		if _, ok := remote[activity.ID]; !ok {
			toRemove = append(toRemove, activity.ID)
		}
	}

	if len(toRemove) > 0 {
		if listing.Truncated {
			e.logger.Warn("upstream listing truncated, skipping deletion detection",
				slog.Int64("runner_id", runnerID),
				slog.Int("candidates", len(toRemove)),
			)
		} else {
			deleted, err := e.store.DeleteActivities(ctx, runnerID, toRemove)
			if err != nil {
				return outcome, domain.StoreFailure("delete vanished activities", err)
			}
			outcome.Deleted = deleted
		}
	}

	changed := make([]domain.Activity, 0, len(remote))
	for id, activity := range remote {
		if existing, ok := localByID[id]; ok && existing.SameContent(activity) {
			continue
		}
		changed = append(changed, activity)
	}
	if len(changed) > 0 {
		sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
		if err := e.store.UpsertActivities(ctx, changed); err != nil {
			return outcome, domain.StoreFailure("upsert activities", err)
		}
		outcome.Upserted = len(changed)
	}

	e.logger.Debug("runner reconciled",
		slog.Int64("runner_id", runnerID),
		slog.Int("fetched", outcome.Fetched),
		slog.Int("upserted", outcome.Upserted),
		slog.Int("deleted", outcome.Deleted),
	)
	return outcome, nil
}
