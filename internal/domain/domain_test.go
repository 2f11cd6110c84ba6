package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestWindowStart(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 59, 0, 0, time.FixedZone("BRT", -3*3600))
	require.Equal(t, time.Date(2020, 6, 2, 0, 0, 0, 0, time.UTC), WindowStart(now, 5))
	require.Equal(t, WindowStart(now, DefaultLookbackYears), WindowStart(now, 0))
}

func TestCredentialExpiresWithin(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	margin := 300 * time.Second
	require.True(t, Credential{ExpiresAt: 1_000_300}.ExpiresWithin(now, margin))
	require.False(t, Credential{ExpiresAt: 1_000_301}.ExpiresWithin(now, margin))
}

func TestFilterRuns(t *testing.T) {
	runs := FilterRuns([]Activity{{ID: 1, Type: "Run"}, {ID: 2, Type: "Ride"}, {ID: 3, Type: "TrailRun"}})
	require.Len(t, runs, 1)
	require.Equal(t, int64(1), runs[0].ID)
}

func TestUpstreamErrorTruncatesAndUnwraps(t *testing.T) {
	err := NewUpstreamError(ErrUpstreamFetch, "list activities", 502, []byte(strings.Repeat("x", 800)))
	require.ErrorIs(t, err, ErrUpstreamFetch)
	require.Len(t, err.Body, MaxErrorBodySize+3)
	require.Contains(t, err.Error(), "status 502")
}

func TestNewUpstreamErrorKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", MaxErrorBodySize-1) + strings.Repeat("é", 10)

	err := NewUpstreamError(ErrUpstreamAuth, "refresh access token", 400, []byte(body))
	require.True(t, utf8.ValidString(err.Body))
	require.Equal(t, strings.Repeat("a", MaxErrorBodySize-1)+"...", err.Body)
}

func TestStoreFailure(t *testing.T) {
	require.NoError(t, StoreFailure("noop", nil))

	cause := errors.New("deadlock detected")
	wrapped := StoreFailure("upsert", cause)
	require.ErrorIs(t, wrapped, ErrStore)
	require.ErrorIs(t, wrapped, cause)
	require.Same(t, wrapped, StoreFailure("outer", wrapped))
}

func TestRankingQueryBounds(t *testing.T) {
	from, to, err := RankingQuery{Year: 2024}.Bounds()
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), to)

	from, to, err = RankingQuery{
		Year:  2024,
		Start: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}.Bounds()
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), from)
	require.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), to)

	_, _, err = RankingQuery{Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}.Bounds()
	require.ErrorIs(t, err, ErrInvalidRange)

	_, _, err = RankingQuery{
		Start: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}.Bounds()
	require.ErrorIs(t, err, ErrInvalidRange)

	_, _, err = RankingQuery{}.Bounds()
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestSortRanking(t *testing.T) {
	entries := []RankingEntry{
		{Name: "Caio", DistanceKm: 10},
		{Name: "Ana", DistanceKm: 12.5},
		{Name: "Bia", DistanceKm: 10},
	}
	SortRanking(entries)
	require.Equal(t, []string{"Ana", "Bia", "Caio"}, []string{entries[0].Name, entries[1].Name, entries[2].Name})
}

type stubRankingStore struct {
	Store
	from, to time.Time
}

func (s *stubRankingStore) RankingTotals(ctx context.Context, from, to time.Time) ([]RankingEntry, error) {
	s.from, s.to = from, to
	return []RankingEntry{{Name: "B", DistanceKm: 1}, {Name: "A", DistanceKm: 2}}, nil
}

func TestServiceRankings(t *testing.T) {
	store := &stubRankingStore{}
	entries, err := NewService(store).Rankings(context.Background(), RankingQuery{Year: 2023})
	require.NoError(t, err)
	require.Equal(t, "A", entries[0].Name)
	require.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), store.from)

	_, err = NewService(store).Rankings(context.Background(), RankingQuery{Year: 12})
	require.ErrorIs(t, err, ErrInvalidRange)
}
