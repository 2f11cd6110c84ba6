package domain

import (
	"context"
	"time"
)

// RunnerStore captures runner persistence operations.
type RunnerStore interface {
	// GetRunner returns nil, nil when the runner does not exist.
	GetRunner(ctx context.Context, runnerID int64) (*Runner, error)
	ListActiveRunners(ctx context.Context) ([]Runner, error)
	// SaveAuthorization creates the runner inactive or refreshes its profile and credential.
	// The active flag of an existing runner is left untouched.
	SaveAuthorization(ctx context.Context, auth Authorization, at time.Time) (*Runner, error)
	// UpdateCredential replaces the credential only when the stored refresh token still
	// equals previousRefreshToken. It reports whether the update was applied.
	UpdateCredential(ctx context.Context, runnerID int64, previousRefreshToken string, cred Credential, at time.Time) (bool, error)
	// SetRunnerActive toggles participation in sync and rankings. Returns ErrRunnerNotFound
	// when the runner does not exist.
	SetRunnerActive(ctx context.Context, runnerID int64, active bool, at time.Time) error
}

// ActivityStore captures activity persistence operations.
type ActivityStore interface {
	// ListActivitiesSince returns the runner's activities starting at or after since.
	ListActivitiesSince(ctx context.Context, runnerID int64, since time.Time) ([]Activity, error)
	// UpsertActivities inserts or replaces activities keyed by activity id.
	UpsertActivities(ctx context.Context, activities []Activity) error
	// DeleteActivities removes the runner's activities with the given ids.
	DeleteActivities(ctx context.Context, runnerID int64, activityIDs []int64) (int, error)
	// DeleteActivity removes one activity by id and reports whether it existed.
	DeleteActivity(ctx context.Context, activityID int64) (bool, error)
	// RankingTotals sums distance per active runner with an avatar over [from, to).
	RankingTotals(ctx context.Context, from, to time.Time) ([]RankingEntry, error)
}

// Store is the full relational store used by the service.
type Store interface {
	RunnerStore
	ActivityStore
}
