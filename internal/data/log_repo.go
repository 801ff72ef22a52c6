package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-jobcoord/internal/data/pgxutil"
	"github.com/target/mmk-jobcoord/internal/domain/model"
)

const (
	defaultLogListLimit = 200
	maxLogListLimit     = 5000
)

// JobLogRepo stores append-only log lines for runs.
type JobLogRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewJobLogRepo creates a JobLogRepo. A nil TimeProvider uses the system clock.
func NewJobLogRepo(db *sql.DB, tp TimeProvider) *JobLogRepo {
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &JobLogRepo{DB: db, timeProvider: tp}
}

// Append inserts one log line and returns it.
func (r *JobLogRepo) Append(ctx context.Context, req *model.AppendLogRequest) (*model.JobLog, error) {
	if req == nil {
		return nil, errors.New("append log request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var ctxJSON []byte
	if len(req.Context) > 0 {
		b, err := json.Marshal(req.Context)
		if err != nil {
			return nil, fmt.Errorf("encode log context: %w", err)
		}
		ctxJSON = b
	}

	var entry *model.JobLog
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO job_logs (run_id, level, stage, message, context, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, run_id, level, stage, message, context, created_at
		`, req.RunID, string(req.Level), req.Stage, req.Message, ctxJSON, r.timeProvider.Now())
		if err != nil {
			return err
		}
		defer rows.Close()
		entry, err = pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.JobLog])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("append log for run %d: %w", req.RunID, err)
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

// ListByRun returns a run's log lines in insertion order.
func (r *JobLogRepo) ListByRun(ctx context.Context, opts model.LogListOptions) ([]*model.JobLog, error) {
	limit := clampLimit(opts.Limit, defaultLogListLimit, maxLogListLimit)
	offset := max(opts.Offset, 0)

	var out []*model.JobLog
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, run_id, level, stage, message, context, created_at
			FROM job_logs
			WHERE run_id = $1
			ORDER BY id
			LIMIT $2 OFFSET $3
		`, opts.RunID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.JobLog])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list logs for run %d: %w", opts.RunID, err)
	}
	for _, l := range out {
		l.CreatedAt = l.CreatedAt.UTC()
	}
	return out, nil
}
