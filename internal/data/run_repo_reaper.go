package data

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-jobcoord/internal/data/pgxutil"
	"github.com/target/mmk-jobcoord/internal/domain/model"
)

// BlockedRunReason prefixes the error stored on runs cancelled because a dependency in their batch did not succeed.
const BlockedRunReason = "dependency did not succeed: "

// SweepStalled fails running runs whose last heartbeat is older than params.Threshold and
// returns their ids in ascending order. Only one sweeper runs at a time; when another
// instance holds the lock the result is empty.
func (r *JobRunRepo) SweepStalled(ctx context.Context, params model.SweepParams) ([]int64, error) {
	if params.Threshold <= 0 {
		return nil, errors.New("threshold must be positive")
	}

	now := r.timeProvider.Now()
	cutoff := now.Add(-params.Threshold)
	var limit *int
	if params.BatchSize > 0 {
		limit = &params.BatchSize
	}

	var ids []int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: pgxutil.ReadCommitted,
		Fn: func(tx pgx.Tx) error {
			locked, err := pgxutil.TryXactLock(ctx, tx, advisoryLockReaperMajor, advisoryLockReaperStalled)
			if err != nil || !locked {
				return err
			}

			rows, err := tx.Query(ctx, `
				UPDATE job_runs
				SET status = 'failed',
					finished_at = GREATEST($1::timestamptz, COALESCE(started_at, queued_at)),
					duration_ms = CASE
						WHEN started_at IS NULL THEN NULL
						ELSE GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($1::timestamptz - started_at)) * 1000))::bigint
					END,
					error = $3,
					updated_at = $1::timestamptz
				WHERE id IN (
					SELECT id FROM job_runs
					WHERE status = 'running'
					  AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $2::timestamptz)
					ORDER BY id
					LIMIT $4::int
					FOR UPDATE SKIP LOCKED
				)
				AND status = 'running'
				RETURNING id
			`, now, cutoff, model.StalledRunError, limit)
			if err != nil {
				return fmt.Errorf("sweep stalled runs: %w", err)
			}
			ids, err = pgx.CollectRows(rows, pgx.RowTo[int64])
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// CancelBlockedRuns cancels queued runs whose dependency in the same batch ended
// failed or cancelled, so gated runs do not wait forever. Returns the cancelled ids.
func (r *JobRunRepo) CancelBlockedRuns(ctx context.Context) ([]int64, error) {
	now := r.timeProvider.Now()

	var ids []int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: pgxutil.ReadCommitted,
		Fn: func(tx pgx.Tx) error {
			locked, err := pgxutil.TryXactLock(ctx, tx, advisoryLockReaperMajor, advisoryLockReaperBlocked)
			if err != nil || !locked {
				return err
			}

			rows, err := tx.Query(ctx, `
				UPDATE job_runs q
				SET status = 'cancelled',
					finished_at = GREATEST($1::timestamptz, q.queued_at),
					cancel_requested_at = COALESCE(q.cancel_requested_at, $1::timestamptz),
					cancel_requested_by = COALESCE(q.cancel_requested_by, 'reaper'),
					error = $2 || blk.dep,
					updated_at = $1::timestamptz
				FROM (
					SELECT DISTINCT ON (r.id) r.id AS blocked_id, d.job_name AS dep
					FROM job_runs r
					JOIN job_runs d
					  ON d.batch_id = r.batch_id
					 AND d.job_name = ANY(r.depends_on)
					 AND d.status IN ('failed', 'cancelled')
					WHERE r.status = 'queued' AND r.batch_id IS NOT NULL
					ORDER BY r.id, d.job_name
				) blk
				WHERE q.id = blk.blocked_id AND q.status = 'queued'
				RETURNING q.id
			`, now, BlockedRunReason)
			if err != nil {
				return fmt.Errorf("cancel blocked runs: %w", err)
			}
			ids, err = pgx.CollectRows(rows, pgx.RowTo[int64])
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}
