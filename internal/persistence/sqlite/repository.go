// Package sqlite stores runners and activities in a single SQLite file.
// Timestamps are kept as unix seconds so range predicates compare integers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mauricioprb/run-ranking/internal/domain"
)

// Repository implements domain.Store on SQLite.
type Repository struct {
	conn *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Repository, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	// One writer at a time; fleet fan-out would otherwise hit SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	repo := &Repository{conn: conn}
	if err := repo.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return repo, nil
}

// Close closes the underlying connection pool.
func (r *Repository) Close() error {
	return r.conn.Close()
}

func (r *Repository) migrate() error {
	_, err := r.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runners (
			athlete_id    INTEGER PRIMARY KEY,
			name          TEXT NOT NULL DEFAULT '',
			avatar_url    TEXT NOT NULL DEFAULT '',
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at    INTEGER NOT NULL,
			active        INTEGER NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS activities (
			activity_id   INTEGER PRIMARY KEY,
			runner_id     INTEGER NOT NULL REFERENCES runners(athlete_id),
			distance      REAL NOT NULL,
			moving_time   INTEGER NOT NULL,
			start_date    INTEGER NOT NULL,
			activity_type TEXT NOT NULL,
			updated_at    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_activities_runner_start ON activities(runner_id, start_date);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

const runnerColumns = `athlete_id, name, avatar_url, access_token, refresh_token, expires_at, active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRunner(row scanner) (*domain.Runner, error) {
	var (
		runner           domain.Runner
		created, updated int64
	)
	err := row.Scan(
		&runner.ID,
		&runner.Name,
		&runner.AvatarURL,
		&runner.Credential.AccessToken,
		&runner.Credential.RefreshToken,
		&runner.Credential.ExpiresAt,
		&runner.Active,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}
	runner.CreatedAt = time.Unix(created, 0).UTC()
	runner.UpdatedAt = time.Unix(updated, 0).UTC()
	return &runner, nil
}

// GetRunner returns nil, nil when the runner does not exist.
func (r *Repository) GetRunner(ctx context.Context, runnerID int64) (*domain.Runner, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT `+runnerColumns+` FROM runners WHERE athlete_id = ?`, runnerID)
	runner, err := scanRunner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.StoreFailure("get runner", err)
	}
	return runner, nil
}

// ListActiveRunners returns every runner flagged active.
func (r *Repository) ListActiveRunners(ctx context.Context) ([]domain.Runner, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT `+runnerColumns+` FROM runners WHERE active = 1 ORDER BY athlete_id`)
	if err != nil {
		return nil, domain.StoreFailure("list active runners", err)
	}
	defer rows.Close()

	runners := make([]domain.Runner, 0)
	for rows.Next() {
		runner, err := scanRunner(rows)
		if err != nil {
			return nil, domain.StoreFailure("scan runner", err)
		}
		runners = append(runners, *runner)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreFailure("list active runners", err)
	}
	return runners, nil
}

// SaveAuthorization upserts the runner, keeping the active flag of existing rows.
func (r *Repository) SaveAuthorization(ctx context.Context, auth domain.Authorization, at time.Time) (*domain.Runner, error) {
	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO runners (athlete_id, name, avatar_url, access_token, refresh_token, expires_at, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(athlete_id) DO UPDATE SET
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		auth.Athlete.ID,
		auth.Athlete.DisplayName(),
		auth.Athlete.Profile,
		auth.Credential.AccessToken,
		auth.Credential.RefreshToken,
		auth.Credential.ExpiresAt,
		at.Unix(),
		at.Unix(),
	)
	if err != nil {
		return nil, domain.StoreFailure("save authorization", err)
	}

	runner, err := r.GetRunner(ctx, auth.Athlete.ID)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, domain.StoreFailure("save authorization", sql.ErrNoRows)
	}
	return runner, nil
}

// UpdateCredential rotates the credential only if the stored refresh token still matches.
func (r *Repository) UpdateCredential(ctx context.Context, runnerID int64, previousRefreshToken string, cred domain.Credential, at time.Time) (bool, error) {
	res, err := r.conn.ExecContext(ctx,
		`UPDATE runners SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		 WHERE athlete_id = ? AND refresh_token = ?`,
		cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, at.Unix(), runnerID, previousRefreshToken,
	)
	if err != nil {
		return false, domain.StoreFailure("update credential", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.StoreFailure("update credential", err)
	}
	return affected == 1, nil
}

// SetRunnerActive toggles the active flag.
func (r *Repository) SetRunnerActive(ctx context.Context, runnerID int64, active bool, at time.Time) error {
	res, err := r.conn.ExecContext(ctx, `UPDATE runners SET active = ?, updated_at = ? WHERE athlete_id = ?`, active, at.Unix(), runnerID)
	if err != nil {
		return domain.StoreFailure("set runner active", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.StoreFailure("set runner active", err)
	}
	if affected == 0 {
		return domain.ErrRunnerNotFound
	}
	return nil
}

// ListActivitiesSince returns the runner's activities starting at or after since, newest first.
func (r *Repository) ListActivitiesSince(ctx context.Context, runnerID int64, since time.Time) ([]domain.Activity, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT activity_id, runner_id, distance, moving_time, start_date, activity_type
		 FROM activities WHERE runner_id = ? AND start_date >= ? ORDER BY start_date DESC`,
		runnerID, since.Unix(),
	)
	if err != nil {
		return nil, domain.StoreFailure("list activities", err)
	}
	defer rows.Close()

	activities := make([]domain.Activity, 0)
	for rows.Next() {
		var (
			activity domain.Activity
			start    int64
		)
		if err := rows.Scan(&activity.ID, &activity.RunnerID, &activity.Distance, &activity.MovingTime, &start, &activity.Type); err != nil {
			return nil, domain.StoreFailure("scan activity", err)
		}
		activity.StartDate = time.Unix(start, 0).UTC()
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreFailure("list activities", err)
	}
	return activities, nil
}

// UpsertActivities writes all activities in one transaction.
func (r *Repository) UpsertActivities(ctx context.Context, activities []domain.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreFailure("begin upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activities (activity_id, runner_id, distance, moving_time, start_date, activity_type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(activity_id) DO UPDATE SET
			runner_id = excluded.runner_id,
			distance = excluded.distance,
			moving_time = excluded.moving_time,
			start_date = excluded.start_date,
			activity_type = excluded.activity_type,
			updated_at = excluded.updated_at`)
	if err != nil {
		return domain.StoreFailure("prepare upsert", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, activity := range activities {
		if _, err := stmt.ExecContext(ctx, activity.ID, activity.RunnerID, activity.Distance, activity.MovingTime, activity.StartDate.Unix(), activity.Type, now); err != nil {
			return domain.StoreFailure("upsert activity", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.StoreFailure("commit upsert", err)
	}
	return nil
}

// DeleteActivities removes the runner's activities with the given ids in one statement.
func (r *Repository) DeleteActivities(ctx context.Context, runnerID int64, activityIDs []int64) (int, error) {
	if len(activityIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(activityIDs)), ",")
	args := make([]any, 0, len(activityIDs)+1)
	args = append(args, runnerID)
	for _, id := range activityIDs {
		args = append(args, id)
	}

	res, err := r.conn.ExecContext(ctx, `DELETE FROM activities WHERE runner_id = ? AND activity_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, domain.StoreFailure("delete activities", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, domain.StoreFailure("delete activities", err)
	}
	return int(affected), nil
}

// DeleteActivity removes one activity by id.
func (r *Repository) DeleteActivity(ctx context.Context, activityID int64) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM activities WHERE activity_id = ?`, activityID)
	if err != nil {
		return false, domain.StoreFailure("delete activity", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.StoreFailure("delete activity", err)
	}
	return affected > 0, nil
}

// RankingTotals sums distance in kilometres per active runner with an avatar over [from, to).
func (r *Repository) RankingTotals(ctx context.Context, from, to time.Time) ([]domain.RankingEntry, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT r.athlete_id, r.name, r.avatar_url, COUNT(a.activity_id), COALESCE(SUM(a.distance), 0) / 1000.0
		FROM runners r
		LEFT JOIN activities a ON a.runner_id = r.athlete_id AND a.start_date >= ? AND a.start_date < ?
		WHERE r.active = 1 AND r.avatar_url <> ''
		GROUP BY r.athlete_id, r.name, r.avatar_url`,
		from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, domain.StoreFailure("ranking totals", err)
	}
	defer rows.Close()

	entries := make([]domain.RankingEntry, 0)
	for rows.Next() {
		var entry domain.RankingEntry
		if err := rows.Scan(&entry.RunnerID, &entry.Name, &entry.AvatarURL, &entry.Activities, &entry.DistanceKm); err != nil {
			return nil, domain.StoreFailure("scan ranking entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreFailure("ranking totals", err)
	}
	domain.SortRanking(entries)
	return entries, nil
}
