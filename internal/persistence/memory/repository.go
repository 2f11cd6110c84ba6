// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mauricioprb/run-ranking/internal/domain"
)

// Repository stores runners and activities in memory.
type Repository struct {
	mu         sync.RWMutex
	runners    map[int64]domain.Runner
	activities map[int64]domain.Activity
	mutations  int
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{
		runners:    make(map[int64]domain.Runner),
		activities: make(map[int64]domain.Activity),
	}
}

// PutRunner stores a runner as-is. Intended for seeding.
func (r *Repository) PutRunner(runner domain.Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[runner.ID] = runner
}

// PutActivities stores activities as-is without counting mutations. Intended for seeding.
func (r *Repository) PutActivities(activities ...domain.Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, activity := range activities {
		r.activities[activity.ID] = activity
	}
}

// Activity returns a stored activity by id.
func (r *Repository) Activity(id int64) (domain.Activity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	activity, ok := r.activities[id]
	return activity, ok
}

// ActivityIDs returns the ids of every stored activity for a runner, sorted.
func (r *Repository) ActivityIDs(runnerID int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0)
	for id, activity := range r.activities {
		if activity.RunnerID == runnerID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Mutations counts rows written or deleted through the store contract.
func (r *Repository) Mutations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mutations
}

// GetRunner implements domain.RunnerStore.
func (r *Repository) GetRunner(ctx context.Context, runnerID int64) (*domain.Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[runnerID]
	if !ok {
		return nil, nil
	}
	return &runner, nil
}

// ListActiveRunners implements domain.RunnerStore.
func (r *Repository) ListActiveRunners(ctx context.Context) ([]domain.Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Runner, 0, len(r.runners))
	for _, runner := range r.runners {
		if runner.Active {
			out = append(out, runner)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveAuthorization implements domain.RunnerStore.
func (r *Repository) SaveAuthorization(ctx context.Context, auth domain.Authorization, at time.Time) (*domain.Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runner, ok := r.runners[auth.Athlete.ID]
	if !ok {
		runner = domain.Runner{ID: auth.Athlete.ID, CreatedAt: at}
	}
	runner.Name = auth.Athlete.DisplayName()
	runner.AvatarURL = auth.Athlete.Profile
	runner.Credential = auth.Credential
	runner.UpdatedAt = at
	r.runners[runner.ID] = runner
	r.mutations++
	return &runner, nil
}

// UpdateCredential implements domain.RunnerStore.
func (r *Repository) UpdateCredential(ctx context.Context, runnerID int64, previousRefreshToken string, cred domain.Credential, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runner, ok := r.runners[runnerID]
	if !ok || runner.Credential.RefreshToken != previousRefreshToken {
		return false, nil
	}
	runner.Credential = cred
	runner.UpdatedAt = at
	r.runners[runnerID] = runner
	r.mutations++
	return true, nil
}

// SetRunnerActive implements domain.RunnerStore.
func (r *Repository) SetRunnerActive(ctx context.Context, runnerID int64, active bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	runner, ok := r.runners[runnerID]
	if !ok {
		return domain.ErrRunnerNotFound
	}
	runner.Active = active
	runner.UpdatedAt = at
	r.runners[runnerID] = runner
	r.mutations++
	return nil
}

// ListActivitiesSince implements domain.ActivityStore.
func (r *Repository) ListActivitiesSince(ctx context.Context, runnerID int64, since time.Time) ([]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Activity, 0)
	for _, activity := range r.activities {
		if activity.RunnerID == runnerID && !activity.StartDate.Before(since) {
			out = append(out, activity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

// UpsertActivities implements domain.ActivityStore.
func (r *Repository) UpsertActivities(ctx context.Context, activities []domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, activity := range activities {
		r.activities[activity.ID] = activity
		r.mutations++
	}
	return nil
}

// DeleteActivities implements domain.ActivityStore.
func (r *Repository) DeleteActivities(ctx context.Context, runnerID int64, activityIDs []int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for _, id := range activityIDs {
		if activity, ok := r.activities[id]; ok && activity.RunnerID == runnerID {
			delete(r.activities, id)
			deleted++
			r.mutations++
		}
	}
	return deleted, nil
}

// DeleteActivity implements domain.ActivityStore.
func (r *Repository) DeleteActivity(ctx context.Context, activityID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.activities[activityID]; !ok {
		return false, nil
	}
	delete(r.activities, activityID)
	r.mutations++
	return true, nil
}

// RankingTotals implements domain.ActivityStore.
func (r *Repository) RankingTotals(ctx context.Context, from, to time.Time) ([]domain.RankingEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := make(map[int64]*domain.RankingEntry)
	for _, runner := range r.runners {
		if !runner.Active || runner.AvatarURL == "" {
			continue
		}
		totals[runner.ID] = &domain.RankingEntry{RunnerID: runner.ID, Name: runner.Name, AvatarURL: runner.AvatarURL}
	}
	for _, activity := range r.activities {
		entry, ok := totals[activity.RunnerID]
		if !ok || activity.StartDate.Before(from) || !activity.StartDate.Before(to) {
			continue
		}
		entry.Activities++
		entry.DistanceKm += activity.Distance / 1000
	}

	out := make([]domain.RankingEntry, 0, len(totals))
	for _, entry := range totals {
		out = append(out, *entry)
	}
	domain.SortRanking(out)
	return out, nil
}
