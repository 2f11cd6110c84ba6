//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mauricioprb/run-ranking/internal/domain"
)

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, ctx)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	runner, err := repo.SaveAuthorization(ctx, domain.Authorization{
		Credential: domain.Credential{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: 1000},
		Athlete:    domain.Athlete{ID: 7, FirstName: "Ana", LastName: "Lima", Profile: "https://img/ana.png"},
	}, at)
	require.NoError(t, err)
	require.False(t, runner.Active)
	require.Equal(t, "Ana Lima", runner.Name)

	require.NoError(t, repo.SetRunnerActive(ctx, 7, true, at))
	require.ErrorIs(t, repo.SetRunnerActive(ctx, 99, true, at), domain.ErrRunnerNotFound)

	runner, err = repo.SaveAuthorization(ctx, domain.Authorization{
		Credential: domain.Credential{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: 2000},
		Athlete:    domain.Athlete{ID: 7, FirstName: "Ana", LastName: "Lima", Profile: "https://img/ana.png"},
	}, at.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, runner.Active)

	applied, err := repo.UpdateCredential(ctx, 7, "stale", domain.Credential{AccessToken: "x", RefreshToken: "x", ExpiresAt: 1}, at)
	require.NoError(t, err)
	require.False(t, applied)
	applied, err = repo.UpdateCredential(ctx, 7, "r2", domain.Credential{AccessToken: "a3", RefreshToken: "r3", ExpiresAt: 3000}, at)
	require.NoError(t, err)
	require.True(t, applied)

	active, err := repo.ListActiveRunners(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "a3", active[0].Credential.AccessToken)

	missing, err := repo.GetRunner(ctx, 99)
	require.NoError(t, err)
	require.Nil(t, missing)

	activities := []domain.Activity{
		{ID: 1, RunnerID: 7, Distance: 5000, MovingTime: 1500, StartDate: at, Type: domain.RunActivityType},
		{ID: 2, RunnerID: 7, Distance: 10000, MovingTime: 3000, StartDate: at.AddDate(0, -1, 0), Type: domain.RunActivityType},
		{ID: 3, RunnerID: 7, Distance: 21100, MovingTime: 6300, StartDate: at.AddDate(-6, 0, 0), Type: domain.RunActivityType},
	}
	require.NoError(t, repo.UpsertActivities(ctx, activities))

	since := at.AddDate(-5, 0, 0)
	stored, err := repo.ListActivitiesSince(ctx, 7, since)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.True(t, stored[0].SameContent(activities[0]))

	deleted, err := repo.DeleteActivities(ctx, 7, []int64{2, 3})
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	existed, err := repo.DeleteActivity(ctx, 1)
	require.NoError(t, err)
	require.True(t, existed)
	existed, err = repo.DeleteActivity(ctx, 1)
	require.NoError(t, err)
	require.False(t, existed)
}

func TestRankingTotals(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, ctx)
	at := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)

	for _, athlete := range []domain.Athlete{
		{ID: 1, FirstName: "Ana", Profile: "a.png"},
		{ID: 2, FirstName: "Bia", Profile: "b.png"},
		{ID: 3, FirstName: "Caio"},
	} {
		_, err := repo.SaveAuthorization(ctx, domain.Authorization{
			Credential: domain.Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1},
			Athlete:    athlete,
		}, at)
		require.NoError(t, err)
		require.NoError(t, repo.SetRunnerActive(ctx, athlete.ID, true, at))
	}

	require.NoError(t, repo.UpsertActivities(ctx, []domain.Activity{
		{ID: 10, RunnerID: 1, Distance: 5000, MovingTime: 1, StartDate: at, Type: domain.RunActivityType},
		{ID: 11, RunnerID: 2, Distance: 12000, MovingTime: 1, StartDate: at, Type: domain.RunActivityType},
		{ID: 12, RunnerID: 2, Distance: 8000, MovingTime: 1, StartDate: at.AddDate(1, 0, 0), Type: domain.RunActivityType},
		{ID: 13, RunnerID: 3, Distance: 42000, MovingTime: 1, StartDate: at, Type: domain.RunActivityType},
	}))

	entries, err := repo.RankingTotals(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(2), entries[0].RunnerID)
	require.InDelta(t, 12.0, entries[0].DistanceKm, 0.0001)
	require.Equal(t, 1, entries[0].Activities)
	require.InDelta(t, 5.0, entries[1].DistanceKm, 0.0001)
}

func newTestRepository(t *testing.T, ctx context.Context) *Repository {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("runranking"),
		postgrescontainer.WithUsername("runranking"),
		postgrescontainer.WithPassword("runranking"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		contents, readErr := os.ReadFile(resolvePath(t, rel))
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
