package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-jobcoord/internal/data/pgxutil"
	"github.com/target/mmk-jobcoord/internal/domain/model"
)

// ScheduleRepo provides database operations for interval schedules.
type ScheduleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduleRepo creates a ScheduleRepo. A nil TimeProvider uses the system clock.
func NewScheduleRepo(db *sql.DB, tp TimeProvider) *ScheduleRepo {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &ScheduleRepo{DB: db, timeProvider: tp}
}

// jobLockKey maps a job name into the minor key space of the scheduler advisory lock.
func jobLockKey(jobName string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobName))
	return int32(h.Sum32() & math.MaxInt32) // #nosec G115 -- masked to int32 range.
}

const scheduleColumns = `
  id::text AS id,
  job_name,
  EXTRACT(EPOCH FROM scheduled_interval)::bigint AS interval_seconds,
  params,
  enabled,
  last_queued_at,
  created_at,
  updated_at
`

// scheduleRow matches scheduleColumns so pgx.RowToStructByName can scan it.
type scheduleRow struct {
	ID              string       `db:"id"`
	JobName         string       `db:"job_name"`
	IntervalSeconds int64        `db:"interval_seconds"`
	Params          []byte       `db:"params"`
	Enabled         bool         `db:"enabled"`
	LastQueuedAt    sql.NullTime `db:"last_queued_at"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r scheduleRow) toModel() model.ScheduledJob {
	s := model.ScheduledJob{
		ID:        r.ID,
		JobName:   r.JobName,
		Interval:  time.Duration(r.IntervalSeconds) * time.Second,
		Params:    r.Params,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.LastQueuedAt.Valid {
		t := r.LastQueuedAt.Time.UTC()
		s.LastQueuedAt = &t
	}
	return s
}

func rowToSchedule(row pgx.CollectableRow) (model.ScheduledJob, error) {
	dbRow, err := pgx.RowToStructByName[scheduleRow](row)
	if err != nil {
		return model.ScheduledJob{}, fmt.Errorf("scan schedule row: %w", err)
	}
	return dbRow.toModel(), nil
}

func (r *ScheduleRepo) query(ctx context.Context, query string, args ...any) ([]model.ScheduledJob, error) {
	var out []model.ScheduledJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, rowToSchedule)
		return err
	})
	return out, err
}

// Upsert creates the schedule for a job or replaces its interval, params and enabled flag.
// last_queued_at is preserved across updates.
func (r *ScheduleRepo) Upsert(ctx context.Context, req *model.UpsertScheduleRequest) (*model.ScheduledJob, error) {
	if req == nil {
		return nil, errors.New("upsert request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now()
	out, err := r.query(ctx, `
		INSERT INTO scheduled_jobs (job_name, scheduled_interval, params, enabled, created_at, updated_at)
		VALUES ($1, make_interval(secs => $2::double precision), $3, $4, $5, $5)
		ON CONFLICT (job_name) DO UPDATE SET
			scheduled_interval = EXCLUDED.scheduled_interval,
			params = EXCLUDED.params,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
		RETURNING `+scheduleColumns,
		req.JobName, req.Interval.Seconds(), nullJSON(req.Params), req.Enabled, now)
	if err != nil {
		return nil, fmt.Errorf("upsert schedule %s: %w", req.JobName, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("upsert schedule %s: expected one row, got %d", req.JobName, len(out))
	}
	return &out[0], nil
}

// List returns every schedule ordered by job name.
func (r *ScheduleRepo) List(ctx context.Context) ([]model.ScheduledJob, error) {
	out, err := r.query(ctx, `SELECT `+scheduleColumns+` FROM scheduled_jobs ORDER BY job_name`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return out, nil
}

// FindDue returns enabled schedules whose interval has elapsed at now, never-fired ones first.
func (r *ScheduleRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	out, err := r.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM scheduled_jobs
		WHERE enabled
		  AND (last_queued_at IS NULL OR last_queued_at + scheduled_interval <= $1)
		ORDER BY
			CASE WHEN last_queued_at IS NULL THEN 0 ELSE 1 END,
			last_queued_at ASC,
			created_at ASC
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	return out, nil
}

// MarkQueued records a fire. It only applies when last_queued_at still equals p.Prev.
// Return semantics:
//   - (true, nil): this caller owns the fire
//   - (false, nil): the schedule is gone or another scheduler fired it first
func (r *ScheduleRepo) MarkQueued(ctx context.Context, p model.MarkScheduleQueuedParams) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET last_queued_at = $2, updated_at = $3
		WHERE id = $1::uuid AND last_queued_at IS NOT DISTINCT FROM $4::timestamptz
	`, p.ID, p.Now.UTC(), r.timeProvider.Now(), p.Prev)
	if err != nil {
		return false, fmt.Errorf("mark schedule queued: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// SetEnabled toggles a schedule.
func (r *ScheduleRepo) SetEnabled(ctx context.Context, jobName string, enabled bool) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_jobs SET enabled = $2, updated_at = $3 WHERE job_name = $1
	`, jobName, enabled, r.timeProvider.Now())
	if err != nil {
		return fmt.Errorf("set schedule enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// TryWithJobLock runs fn while holding a transaction-scoped advisory lock for jobName.
// Return semantics:
//   - (false, nil): lock not acquired; fn was not executed
//   - (true, nil): lock acquired; fn executed and succeeded
//   - (true, err): lock acquired; fn executed and failed with err
func (r *ScheduleRepo) TryWithJobLock(ctx context.Context, jobName string, fn func(context.Context) error) (bool, error) {
	var locked bool
	var fnErr error
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var err error
			locked, err = pgxutil.TryXactLock(ctx, tx, advisoryLockSchedulerMajor, jobLockKey(jobName))
			if err != nil || !locked {
				return err
			}
			fnErr = fn(ctx)
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	return locked, fnErr
}
