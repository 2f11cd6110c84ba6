// Package fleet runs reconciliation across every active runner.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mauricioprb/run-ranking/internal/domain"
	"github.com/mauricioprb/run-ranking/internal/observability"
	"github.com/mauricioprb/run-ranking/internal/reconcile"
)

// NoRunnersMessage is reported when there is nobody to synchronize.
const NoRunnersMessage = "no active runners to synchronize"

// RunnerLister loads the runners that participate in a run.
type RunnerLister interface {
	ListActiveRunners(ctx context.Context) ([]domain.Runner, error)
}

// Reconciler reconciles a single runner.
type Reconciler interface {
	ReconcileRunner(ctx context.Context, runnerID int64) (reconcile.Outcome, error)
}

// Option configures optional behaviour for the Synchronizer.
type Option func(*Synchronizer)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithConcurrency bounds the number of runners reconciled at once.
func WithConcurrency(limit int) Option {
	return func(s *Synchronizer) {
		if limit > 0 {
			s.concurrency = limit
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// Synchronizer is the Fleet Synchronizer.
type Synchronizer struct {
	runners     RunnerLister
	reconciler  Reconciler
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(runners RunnerLister, reconciler Reconciler, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		runners:     runners,
		reconciler:  reconciler,
		concurrency: 4,
		now:         time.Now,
		logger:      observability.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SynchronizeAll reconciles every active runner and reports per-runner results. Only a
// failure to load the runner list is returned as an error; runner failures are recorded
// in the report and never abort their siblings.
func (s *Synchronizer) SynchronizeAll(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: s.now().UTC(),
		Details:   make([]domain.RunnerResult, 0),
	}
	logger := s.logger.With(slog.String("run_id", report.RunID))

	runners, err := s.runners.ListActiveRunners(ctx)
	if err != nil {
		report.FinishedAt = s.now().UTC()
		observability.RecordSyncRun("failed", report.StartedAt, report.FinishedAt)
		return report, domain.StoreFailure("list active runners", err)
	}

	if len(runners) == 0 {
		report.Message = NoRunnersMessage
		report.FinishedAt = s.now().UTC()
		observability.RecordSyncRun("completed", report.StartedAt, report.FinishedAt)
		logger.Info(NoRunnersMessage)
		return report, nil
	}

	results := make([]domain.RunnerResult, len(runners))
	group := errgroup.Group{}
	group.SetLimit(s.concurrency)
	for i, runner := range runners {
		i, runner := i, runner
		group.Go(func() error {
			results[i] = s.syncRunner(ctx, logger, runner)
			return nil
		})
	}
	_ = group.Wait()

	report.Details = results
	report.Total = len(results)
	for _, result := range results {
		if result.Status == domain.RunnerSucceeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
		observability.RecordRunnerResult(string(result.Status))
	}
	report.Message = fmt.Sprintf("synchronized %d of %d runners", report.Succeeded, report.Total)
	report.FinishedAt = s.now().UTC()
	observability.RecordSyncRun("completed", report.StartedAt, report.FinishedAt)

	logger.Info("fleet synchronization finished",
		slog.Int("total", report.Total),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (s *Synchronizer) syncRunner(ctx context.Context, logger *slog.Logger, runner domain.Runner) (result domain.RunnerResult) {
	result = domain.RunnerResult{RunnerID: runner.ID, Name: runner.Name}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("reconcile runner %d: panic: %v", runner.ID, r)
			result.Status = domain.RunnerFailed
			result.Error = err.Error()
			logger.Error("runner reconciliation panicked", slog.Int64("runner_id", runner.ID), slog.Any("panic", r))
			observability.CaptureError(err, map[string]string{"component": "fleet"})
		}
	}()

	outcome, err := s.reconciler.ReconcileRunner(ctx, runner.ID)
	if err != nil {
		result.Status = domain.RunnerFailed
		result.Error = err.Error()
		logger.Error("runner reconciliation failed",
			slog.Int64("runner_id", runner.ID),
			slog.String("error", err.Error()),
		)
		observability.CaptureError(err, map[string]string{"component": "fleet"})
		return result
	}

	result.Status = domain.RunnerSucceeded
	result.Upserted = outcome.Upserted
	result.Deleted = outcome.Deleted
	return result
}
