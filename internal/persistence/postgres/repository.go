package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mauricioprb/run-ranking/internal/domain"
)

// Repository provides Postgres-backed persistence for runners and activities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const runnerColumns = `athlete_id, name, COALESCE(avatar_url, ''), access_token, refresh_token, expires_at, active, created_at, updated_at`

func scanRunner(row pgx.Row) (*domain.Runner, error) {
	var runner domain.Runner
	err := row.Scan(
		&runner.ID,
		&runner.Name,
		&runner.AvatarURL,
		&runner.Credential.AccessToken,
		&runner.Credential.RefreshToken,
		&runner.Credential.ExpiresAt,
		&runner.Active,
		&runner.CreatedAt,
		&runner.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &runner, nil
}

// GetRunner returns nil, nil when the runner does not exist.
func (r *Repository) GetRunner(ctx context.Context, runnerID int64) (*domain.Runner, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runnerColumns+` FROM runners WHERE athlete_id=$1`, runnerID)
	runner, err := scanRunner(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.StoreFailure("get runner", err)
	}
	return runner, nil
}

// ListActiveRunners returns every runner flagged active.
func (r *Repository) ListActiveRunners(ctx context.Context) ([]domain.Runner, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runnerColumns+` FROM runners WHERE active ORDER BY athlete_id`)
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

// SaveAuthorization upserts the runner profile and credential. New runners are inserted
// inactive; the active flag of an existing runner is preserved.
func (r *Repository) SaveAuthorization(ctx context.Context, auth domain.Authorization, at time.Time) (*domain.Runner, error) {
	const query = `INSERT INTO runners (athlete_id, name, avatar_url, access_token, refresh_token, expires_at, active, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,FALSE,$7,$7)
        ON CONFLICT (athlete_id) DO UPDATE SET
            name = EXCLUDED.name,
            avatar_url = EXCLUDED.avatar_url,
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            updated_at = EXCLUDED.updated_at
        RETURNING ` + runnerColumns

	row := r.pool.QueryRow(ctx, query,
		auth.Athlete.ID,
		auth.Athlete.DisplayName(),
		nullIfEmpty(auth.Athlete.Profile),
		auth.Credential.AccessToken,
		auth.Credential.RefreshToken,
		auth.Credential.ExpiresAt,
		at,
	)
	runner, err := scanRunner(row)
	if err != nil {
		return nil, domain.StoreFailure("save authorization", err)
	}
	return runner, nil
}

// UpdateCredential rotates the credential only if the stored refresh token still matches.
func (r *Repository) UpdateCredential(ctx context.Context, runnerID int64, previousRefreshToken string, cred domain.Credential, at time.Time) (bool, error) {
	const query = `UPDATE runners SET access_token=$3, refresh_token=$4, expires_at=$5, updated_at=$6
        WHERE athlete_id=$1 AND refresh_token=$2`

	tag, err := r.pool.Exec(ctx, query, runnerID, previousRefreshToken, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, at)
	if err != nil {
		return false, domain.StoreFailure("update credential", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetRunnerActive toggles the active flag.
func (r *Repository) SetRunnerActive(ctx context.Context, runnerID int64, active bool, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE runners SET active=$2, updated_at=$3 WHERE athlete_id=$1`, runnerID, active, at)
	if err != nil {
		return domain.StoreFailure("set runner active", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunnerNotFound
	}
	return nil
}

// ListActivitiesSince returns the runner's activities starting at or after since, newest first.
func (r *Repository) ListActivitiesSince(ctx context.Context, runnerID int64, since time.Time) ([]domain.Activity, error) {
	const query = `SELECT activity_id, runner_id, distance, moving_time, start_date, activity_type
        FROM activities WHERE runner_id=$1 AND start_date >= $2 ORDER BY start_date DESC`

	rows, err := r.pool.Query(ctx, query, runnerID, since)
	if err != nil {
		return nil, domain.StoreFailure("list activities", err)
	}
	defer rows.Close()

	activities := make([]domain.Activity, 0)
	for rows.Next() {
		var activity domain.Activity
		if err := rows.Scan(&activity.ID, &activity.RunnerID, &activity.Distance, &activity.MovingTime, &activity.StartDate, &activity.Type); err != nil {
			return nil, domain.StoreFailure("scan activity", err)
		}
		activity.StartDate = activity.StartDate.UTC()
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreFailure("list activities", err)
	}
	return activities, nil
}

// UpsertActivities writes all activities in one transaction, keyed by activity id.
func (r *Repository) UpsertActivities(ctx context.Context, activities []domain.Activity) (err error) {
	if len(activities) == 0 {
		return nil
	}

	const query = `INSERT INTO activities (activity_id, runner_id, distance, moving_time, start_date, activity_type, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,NOW())
        ON CONFLICT (activity_id) DO UPDATE SET
            runner_id = EXCLUDED.runner_id,
            distance = EXCLUDED.distance,
            moving_time = EXCLUDED.moving_time,
            start_date = EXCLUDED.start_date,
            activity_type = EXCLUDED.activity_type,
            updated_at = NOW()`

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.StoreFailure("begin upsert", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	batch := &pgx.Batch{}
	for _, activity := range activities {
		batch.Queue(query, activity.ID, activity.RunnerID, activity.Distance, activity.MovingTime, activity.StartDate, activity.Type)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.StoreFailure("upsert activities", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return domain.StoreFailure("commit upsert", err)
	}
	return nil
}

// DeleteActivities removes the runner's activities with the given ids in one statement.
func (r *Repository) DeleteActivities(ctx context.Context, runnerID int64, activityIDs []int64) (int, error) {
	if len(activityIDs) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE runner_id=$1 AND activity_id = ANY($2)`, runnerID, activityIDs)
	if err != nil {
		return 0, domain.StoreFailure("delete activities", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteActivity removes one activity by id.
func (r *Repository) DeleteActivity(ctx context.Context, activityID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE activity_id=$1`, activityID)
	if err != nil {
		return false, domain.StoreFailure("delete activity", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RankingTotals sums distance in kilometres per active runner with an avatar over [from, to).
func (r *Repository) RankingTotals(ctx context.Context, from, to time.Time) ([]domain.RankingEntry, error) {
	const query = `SELECT r.athlete_id, r.name, r.avatar_url, COUNT(a.activity_id), COALESCE(SUM(a.distance), 0) / 1000.0
        FROM runners r
        LEFT JOIN activities a ON a.runner_id = r.athlete_id AND a.start_date >= $1 AND a.start_date < $2
        WHERE r.active AND r.avatar_url IS NOT NULL AND r.avatar_url <> ''
        GROUP BY r.athlete_id, r.name, r.avatar_url
        ORDER BY 5 DESC, r.name ASC`

	rows, err := r.pool.Query(ctx, query, from, to)
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
	return entries, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
