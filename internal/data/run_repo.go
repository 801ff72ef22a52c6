package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/target/mmk-jobcoord/internal/domain/model"
)

// Advisory lock namespace for coordination sweeps. Major key 1000 is reserved for the reaper.
const (
	advisoryLockReaperMajor          = 1000
	advisoryLockReaperStalled        = 1 // minor key for SweepStalled
	advisoryLockReaperBlocked        = 2 // minor key for CancelBlockedRuns
	advisoryLockReaperStaleWorkers   = 3 // minor key for MarkStaleWorkersStopped
	advisoryLockSchedulerMajor int32 = 1001
)

// RunRepoConfig holds configuration options for the run repository.
type RunRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRunRepo provides database operations for job runs.
type JobRunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRunRepo creates a new JobRunRepo.
func NewJobRunRepo(db *sql.DB, cfg RunRepoConfig) *JobRunRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRunRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_run_repo"),
	}
}

// Now exposes the repository clock so callers stamp values consistently with stored rows.
func (r *JobRunRepo) Now() time.Time {
	return r.timeProvider.Now()
}

const runColumns = `
  id,
  job_name,
  trigger_kind,
  scope,
  version,
  status,
  queued_at,
  started_at,
  finished_at,
  duration_ms,
  last_heartbeat_at,
  worker_id::text AS worker_id,
  cancel_requested_at,
  cancel_requested_by,
  current_stage,
  progress_current,
  progress_total,
  progress_percent,
  progress_message,
  entities_processed,
  entities_total,
  outcome_summary,
  error,
  triggered_by,
  metadata,
  depends_on,
  batch_id::text AS batch_id,
  updated_at
`

// collectRuns scans every row into runs with timestamps normalised to UTC.
func collectRuns(rows pgx.Rows) ([]*model.JobRun, error) {
	runs, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.JobRun])
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		normalizeRun(run)
	}
	return runs, nil
}

// collectRun scans exactly one row; pgx.ErrNoRows is returned when there is none.
func collectRun(rows pgx.Rows) (*model.JobRun, error) {
	run, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.JobRun])
	if err != nil {
		return nil, err
	}
	normalizeRun(run)
	return run, nil
}

func normalizeRun(run *model.JobRun) {
	run.QueuedAt = run.QueuedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	run.StartedAt = utcPtr(run.StartedAt)
	run.FinishedAt = utcPtr(run.FinishedAt)
	run.LastHeartbeatAt = utcPtr(run.LastHeartbeatAt)
	run.CancelRequestedAt = utcPtr(run.CancelRequestedAt)
	if run.DependsOn == nil {
		run.DependsOn = []string{}
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// queryRun runs a single-row query on a pinned pgx connection.
func (r *JobRunRepo) queryRun(ctx context.Context, q pgxQuerier, query string, args ...any) (*model.JobRun, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRun(rows)
}

// pgxQuerier is satisfied by *pgx.Conn and pgx.Tx.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// WaitForNotification blocks until a notification arrives on channel or ctx ends.
func (r *JobRunRepo) WaitForNotification(ctx context.Context, channel string) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() { _ = conn.Close() }()

	quoted := pgx.Identifier{channel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}
