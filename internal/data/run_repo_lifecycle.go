package data

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-jobcoord/internal/data/pgxutil"
	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/domain/model"
)

// cancelRaceRetries bounds how often RequestCancel re-reads a run that changed under it.
const cancelRaceRetries = 3

// Create inserts a queued run and notifies listeners once the insert commits.
func (r *JobRunRepo) Create(ctx context.Context, req *model.CreateRunRequest) (*model.JobRun, error) {
	runs, err := r.CreateBatch(ctx, []*model.CreateRunRequest{req})
	if err != nil {
		return nil, err
	}
	return runs[0], nil
}

// CreateBatch inserts every request in one transaction, in order. Either all runs are
// created or none are.
func (r *JobRunRepo) CreateBatch(ctx context.Context, reqs []*model.CreateRunRequest) ([]*model.JobRun, error) {
	if len(reqs) == 0 {
		return nil, errors.New("at least one run is required")
	}
	for _, req := range reqs {
		if req == nil {
			return nil, errors.New("create run request is nil")
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}

	now := r.timeProvider.Now()
	runs := make([]*model.JobRun, 0, len(reqs))
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			for _, req := range reqs {
				run, err := r.insertRun(ctx, tx, req)
				if err != nil {
					return err
				}
				runs = append(runs, run)
			}
			for _, run := range runs {
				if err := pgxutil.Notify(ctx, tx, job.QueuedChannel, strconv.FormatInt(run.ID, 10)); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "runs queued", "count", len(runs), "queued_at", now)
	return runs, nil
}

func (r *JobRunRepo) insertRun(ctx context.Context, tx pgx.Tx, req *model.CreateRunRequest) (*model.JobRun, error) {
	dependsOn := req.DependsOn
	if dependsOn == nil {
		dependsOn = []string{}
	}

	now := r.timeProvider.Now()
	run, err := r.queryRun(ctx, tx, `
		INSERT INTO job_runs (
			job_name, trigger_kind, scope, version, status, queued_at,
			triggered_by, metadata, depends_on, batch_id, updated_at
		)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7, $8, $9::uuid, $5)
		RETURNING `+runColumns,
		req.JobName,
		string(req.Trigger),
		nullJSON(req.Scope),
		req.Version,
		now,
		req.TriggeredBy,
		nullJSON(req.Params),
		dependsOn,
		req.BatchID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run %s: %w", req.JobName, err)
	}
	return run, nil
}

// nullJSON maps empty and literal null payloads to SQL NULL.
func nullJSON(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Claim atomically moves the oldest eligible queued run to running for the given worker.
// It returns model.ErrNoRunsAvailable when nothing is eligible.
func (r *JobRunRepo) Claim(ctx context.Context, params model.ClaimParams) (*model.JobRun, error) {
	if params.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}
	var names []string
	if len(params.JobNames) > 0 {
		names = params.JobNames
	}

	// Gating: every declared dependency needs a succeeded run, taken from the same
	// batch when the batch enqueued that dependency.
	const query = `
		WITH candidate AS (
			SELECT q.id AS claim_id
			FROM job_runs q
			WHERE q.status = 'queued'
			  AND q.cancel_requested_at IS NULL
			  AND ($3::text[] IS NULL OR q.job_name = ANY($3::text[]))
			  AND (NOT $4::boolean OR NOT EXISTS (
					SELECT 1
					FROM unnest(q.depends_on) AS dep(name)
					WHERE NOT EXISTS (
						SELECT 1 FROM job_runs d
						WHERE d.job_name = dep.name
						  AND d.status = 'succeeded'
						  AND (
							q.batch_id IS NULL
							OR d.batch_id = q.batch_id
							OR NOT EXISTS (
								SELECT 1 FROM job_runs b
								WHERE b.batch_id = q.batch_id AND b.job_name = dep.name
							)
						  )
					)
			  ))
			ORDER BY q.queued_at, q.id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE job_runs
		SET status = 'running',
			started_at = GREATEST($2::timestamptz, queued_at),
			last_heartbeat_at = $2::timestamptz,
			worker_id = $1::uuid,
			updated_at = $2::timestamptz
		FROM candidate
		WHERE job_runs.id = candidate.claim_id
		  AND job_runs.status = 'queued'
		RETURNING ` + runColumns

	var claimed *model.JobRun
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: pgxutil.ReadCommitted,
		Fn: func(tx pgx.Tx) error {
			run, err := r.queryRun(ctx, tx, query, params.WorkerID, r.timeProvider.Now(), names, params.EnforceDependencies)
			if err != nil {
				return err
			}
			claimed = run
			return nil
		},
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNoRunsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	return claimed, nil
}

// Heartbeat refreshes last_heartbeat_at and any non-nil progress fields. It is a no-op
// returning false unless the run is running and owned by the given worker.
func (r *JobRunRepo) Heartbeat(ctx context.Context, hb model.RunHeartbeat) (bool, error) {
	if hb.WorkerID == "" {
		return false, errors.New("worker id is required")
	}
	p := hb.Progress
	if p == nil {
		p = &model.Progress{}
	}

	var updated bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE job_runs
			SET last_heartbeat_at = $3,
				updated_at = $3,
				current_stage = COALESCE($4::text, current_stage),
				progress_current = COALESCE($5::bigint, progress_current),
				progress_total = COALESCE($6::bigint, progress_total),
				progress_percent = COALESCE($7::double precision, progress_percent),
				progress_message = COALESCE($8::text, progress_message),
				entities_processed = COALESCE($9::bigint, entities_processed),
				entities_total = COALESCE($10::bigint, entities_total)
			WHERE id = $1
			  AND status = 'running'
			  AND worker_id = $2::uuid
		`, hb.RunID, hb.WorkerID, r.timeProvider.Now(),
			p.Stage, p.Current, p.Total, p.Percent, p.Message, p.EntitiesProcessed, p.EntitiesTotal)
		if err != nil {
			return err
		}
		updated = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("heartbeat run %d: %w", hb.RunID, err)
	}
	return updated, nil
}

// Finish records a terminal outcome for a running run. A run that is no longer running
// (or is owned by another worker when WorkerID is set) is left untouched and false is returned.
func (r *JobRunRepo) Finish(ctx context.Context, params model.FinishParams) (bool, error) {
	if err := params.Outcome.Validate(); err != nil {
		return false, err
	}

	var updated bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `
			UPDATE job_runs
			SET status = $2,
				finished_at = GREATEST($3::timestamptz, started_at),
				duration_ms = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) * 1000))::bigint,
				outcome_summary = $4,
				error = $5,
				updated_at = $3::timestamptz
			WHERE id = $1
			  AND status = 'running'
			  AND ($6::uuid IS NULL OR worker_id = $6::uuid)
		`, params.RunID, string(params.Outcome.Status), r.timeProvider.Now(),
			nullJSON(params.Outcome.Summary), nullString(params.Outcome.Error), nullString(params.WorkerID))
		if err != nil {
			return err
		}
		updated = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("finish run %d: %w", params.RunID, err)
	}
	return updated, nil
}

// RequestCancel cancels a queued run outright or flags a running run for cooperative
// cancellation. ErrRunNotFound and ErrRunTerminal report the two refusal cases.
func (r *JobRunRepo) RequestCancel(ctx context.Context, params model.CancelParams) (model.CancelResult, *model.JobRun, error) {
	for range cancelRaceRetries {
		run, err := r.cancelQueued(ctx, params)
		if err != nil {
			return "", nil, err
		}
		if run != nil {
			return model.CancelResultCancelled, run, nil
		}

		run, err = r.flagRunning(ctx, params)
		if err != nil {
			return "", nil, err
		}
		if run != nil {
			return model.CancelResultRequested, run, nil
		}

		// Neither guard matched; answer from whatever state the row is in now.
		current, err := r.GetByID(ctx, params.RunID)
		if err != nil {
			return "", nil, err
		}
		switch {
		case current.Status == model.RunStatusRunning:
			// Already flagged by an earlier request.
			return model.CancelResultRequested, current, nil
		case current.Status.IsTerminal():
			return "", current, ErrRunTerminal
		}
	}
	return "", nil, fmt.Errorf("cancel run %d: state kept changing", params.RunID)
}

func (r *JobRunRepo) cancelQueued(ctx context.Context, params model.CancelParams) (*model.JobRun, error) {
	return r.guardedRunUpdate(ctx, `
		UPDATE job_runs
		SET status = 'cancelled',
			finished_at = GREATEST($2::timestamptz, queued_at),
			cancel_requested_at = COALESCE(cancel_requested_at, $2::timestamptz),
			cancel_requested_by = COALESCE(cancel_requested_by, $3),
			updated_at = $2::timestamptz
		WHERE id = $1 AND status = 'queued'
		RETURNING `+runColumns, params.RunID, r.timeProvider.Now(), params.RequestedBy)
}

func (r *JobRunRepo) flagRunning(ctx context.Context, params model.CancelParams) (*model.JobRun, error) {
	return r.guardedRunUpdate(ctx, `
		UPDATE job_runs
		SET cancel_requested_at = $2::timestamptz,
			cancel_requested_by = $3,
			updated_at = $2::timestamptz
		WHERE id = $1 AND status = 'running' AND cancel_requested_at IS NULL
		RETURNING `+runColumns, params.RunID, r.timeProvider.Now(), params.RequestedBy)
}

// guardedRunUpdate runs an UPDATE ... RETURNING and maps "no row matched" to (nil, nil).
func (r *JobRunRepo) guardedRunUpdate(ctx context.Context, query string, args ...any) (*model.JobRun, error) {
	var run *model.JobRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var qErr error
		run, qErr = r.queryRun(ctx, conn, query, args...)
		return qErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	return run, nil
}

// IsCancelRequested reports whether cancellation was requested for the run.
func (r *JobRunRepo) IsCancelRequested(ctx context.Context, runID int64) (bool, error) {
	var requested bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx,
			`SELECT cancel_requested_at IS NOT NULL FROM job_runs WHERE id = $1`, runID,
		).Scan(&requested)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrRunNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check cancel flag for run %d: %w", runID, err)
	}
	return requested, nil
}

// GetByID retrieves a run by its id.
func (r *JobRunRepo) GetByID(ctx context.Context, id int64) (*model.JobRun, error) {
	var run *model.JobRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var qErr error
		run, qErr = r.queryRun(ctx, conn, `SELECT `+runColumns+` FROM job_runs WHERE id = $1`, id)
		return qErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}
	return run, nil
}

// HasActiveRun reports whether jobName has a queued or running run.
func (r *JobRunRepo) HasActiveRun(ctx context.Context, jobName string) (bool, error) {
	var exists bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM job_runs WHERE job_name = $1 AND status IN ('queued', 'running')
			)`, jobName).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("check active run for %s: %w", jobName, err)
	}
	return exists, nil
}
