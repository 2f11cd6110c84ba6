// Package domain defines the runners, activities and store contracts shared by the
// synchronization engine and the reporting endpoints.
package domain

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrInvalidRange is returned when a ranking query does not describe a usable period.
var ErrInvalidRange = errors.New("invalid ranking range")

// RankingEntry is one row of the distance ranking.
type RankingEntry struct {
	RunnerID   int64   `json:"runner_id"`
	Name       string  `json:"name"`
	AvatarURL  string  `json:"avatar_url"`
	Activities int     `json:"activities"`
	DistanceKm float64 `json:"distance_km"`
}

// RankingQuery selects the ranking period. A non-zero Start/End pair takes precedence
// over Year; End is inclusive of the whole day.
type RankingQuery struct {
	Year  int
	Start time.Time
	End   time.Time
}

// Bounds resolves the query into a half-open UTC interval.
func (q RankingQuery) Bounds() (time.Time, time.Time, error) {
	if !q.Start.IsZero() || !q.End.IsZero() {
		if q.Start.IsZero() || q.End.IsZero() {
			return time.Time{}, time.Time{}, ErrInvalidRange
		}
		from := startOfDay(q.Start)
		to := startOfDay(q.End).AddDate(0, 0, 1)
		if !to.After(from) {
			return time.Time{}, time.Time{}, ErrInvalidRange
		}
		return from, to, nil
	}
	if q.Year < 1970 || q.Year > 9999 {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	from := time.Date(q.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(1, 0, 0), nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Service serves the reporting and administrative operations over the store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Rankings returns runners ordered by total distance for the requested period.
func (s *Service) Rankings(ctx context.Context, query RankingQuery) ([]RankingEntry, error) {
	from, to, err := query.Bounds()
	if err != nil {
		return nil, err
	}
	entries, err := s.store.RankingTotals(ctx, from, to)
	if err != nil {
		return nil, err
	}
	SortRanking(entries)
	return entries, nil
}

// SetRunnerActive activates or deactivates a runner.
func (s *Service) SetRunnerActive(ctx context.Context, runnerID int64, active bool) error {
	return s.store.SetRunnerActive(ctx, runnerID, active, s.now().UTC())
}

// SortRanking orders entries by distance descending, then by name.
func SortRanking(entries []RankingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].DistanceKm != entries[j].DistanceKm {
			return entries[i].DistanceKm > entries[j].DistanceKm
		}
		return entries[i].Name < entries[j].Name
	})
}
