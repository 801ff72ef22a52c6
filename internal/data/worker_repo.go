package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/target/mmk-jobcoord/internal/data/pgxutil"
	"github.com/target/mmk-jobcoord/internal/domain/model"
)

const (
	defaultWorkerListLimit = 20
	maxWorkerListLimit     = 200
)

const workerColumns = `
  id::text AS id,
  pool,
  hostname,
  pid,
  status,
  started_at,
  stopped_at,
  last_heartbeat_at,
  jobs_processed
`

const leaseColumns = `
  pool,
  worker_id::text AS worker_id,
  acquired_at,
  expires_at,
  stop_requested_at,
  stop_requested_by
`

// WorkerRepo persists worker instances and the per-pool lease row.
type WorkerRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// WorkerRepoConfig holds configuration options for WorkerRepo.
type WorkerRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewWorkerRepo creates a new WorkerRepo.
func NewWorkerRepo(db *sql.DB, cfg WorkerRepoConfig) *WorkerRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerRepo{DB: db, timeProvider: tp, logger: logger.With("component", "worker_repo")}
}

func normalizeWorker(w *model.WorkerInstance) {
	w.StartedAt = w.StartedAt.UTC()
	w.LastHeartbeatAt = w.LastHeartbeatAt.UTC()
	w.StoppedAt = utcPtr(w.StoppedAt)
}

// Register inserts a running instance with a fresh id.
func (r *WorkerRepo) Register(ctx context.Context, req *model.RegisterWorkerRequest) (*model.WorkerInstance, error) {
	if req == nil {
		return nil, errors.New("register request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var inst *model.WorkerInstance
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO worker_instances (id, pool, hostname, pid, status, started_at, last_heartbeat_at)
			VALUES ($1::uuid, $2, $3, $4, 'running', $5, $5)
			RETURNING `+workerColumns,
			uuid.NewString(), req.Pool, req.Hostname, req.PID, r.timeProvider.Now())
		if err != nil {
			return err
		}
		defer rows.Close()
		inst, err = pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.WorkerInstance])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register worker: %w", err)
	}
	normalizeWorker(inst)
	return inst, nil
}

func (r *WorkerRepo) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Heartbeat refreshes last_heartbeat_at for a running instance.
func (r *WorkerRepo) Heartbeat(ctx context.Context, workerID string) (bool, error) {
	n, err := r.exec(ctx, `
		UPDATE worker_instances SET last_heartbeat_at = $2
		WHERE id = $1::uuid AND status = 'running'
	`, workerID, r.timeProvider.Now())
	if err != nil {
		return false, fmt.Errorf("heartbeat worker %s: %w", workerID, err)
	}
	return n > 0, nil
}

// Deregister marks a running instance stopped.
func (r *WorkerRepo) Deregister(ctx context.Context, workerID string) (bool, error) {
	n, err := r.exec(ctx, `
		UPDATE worker_instances SET status = 'stopped', stopped_at = $2
		WHERE id = $1::uuid AND status = 'running'
	`, workerID, r.timeProvider.Now())
	if err != nil {
		return false, fmt.Errorf("deregister worker %s: %w", workerID, err)
	}
	return n > 0, nil
}

// IncrementProcessed bumps the processed counter of an instance.
func (r *WorkerRepo) IncrementProcessed(ctx context.Context, workerID string) error {
	if _, err := r.exec(ctx, `
		UPDATE worker_instances SET jobs_processed = jobs_processed + 1 WHERE id = $1::uuid
	`, workerID); err != nil {
		return fmt.Errorf("increment processed for worker %s: %w", workerID, err)
	}
	return nil
}

// CountActive counts running instances in pool whose heartbeat is within window.
func (r *WorkerRepo) CountActive(ctx context.Context, pool string, window time.Duration) (int, error) {
	if window <= 0 {
		window = model.DefaultLivenessWindow
	}
	var count int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM worker_instances
		WHERE pool = $1 AND status = 'running' AND last_heartbeat_at > $2
	`, pool, r.timeProvider.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active workers: %w", err)
	}
	return count, nil
}

// List returns instances newest first, optionally filtered by pool.
func (r *WorkerRepo) List(ctx context.Context, opts model.WorkerListOptions) ([]*model.WorkerInstance, error) {
	limit := clampLimit(opts.Limit, defaultWorkerListLimit, maxWorkerListLimit)

	var out []*model.WorkerInstance
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+workerColumns+`
			FROM worker_instances
			WHERE ($1 = '' OR pool = $1)
			ORDER BY started_at DESC, id
			LIMIT $2
		`, opts.Pool, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.WorkerInstance])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	for _, w := range out {
		normalizeWorker(w)
	}
	return out, nil
}

// MarkStaleStopped stops running instances whose heartbeat is older than staleAfter
// and returns their ids.
func (r *WorkerRepo) MarkStaleStopped(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	if staleAfter <= 0 {
		return nil, errors.New("stale threshold must be positive")
	}
	now := r.timeProvider.Now()

	var ids []string
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			locked, err := pgxutil.TryXactLock(ctx, tx, advisoryLockReaperMajor, advisoryLockReaperStaleWorkers)
			if err != nil || !locked {
				return err
			}
			rows, err := tx.Query(ctx, `
				UPDATE worker_instances SET status = 'stopped', stopped_at = $1
				WHERE status = 'running' AND last_heartbeat_at < $2
				RETURNING id::text
			`, now, now.Add(-staleAfter))
			if err != nil {
				return err
			}
			ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mark stale workers: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// AcquireLease takes the pool lease when it is free, expired, or already held by the
// same worker. It returns false when another worker holds a live lease.
func (r *WorkerRepo) AcquireLease(ctx context.Context, req model.LeaseRequest) (bool, error) {
	if req.Pool == "" || req.WorkerID == "" {
		return false, errors.New("pool and worker id are required")
	}
	if req.TTL <= 0 {
		return false, errors.New("lease ttl must be positive")
	}
	now := r.timeProvider.Now()

	var holder string
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO worker_leases (pool, worker_id, acquired_at, expires_at)
		VALUES ($1, $2::uuid, $3, $4)
		ON CONFLICT (pool) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			acquired_at = CASE WHEN worker_leases.worker_id = EXCLUDED.worker_id
				THEN worker_leases.acquired_at ELSE EXCLUDED.acquired_at END,
			expires_at = EXCLUDED.expires_at,
			stop_requested_at = CASE WHEN worker_leases.worker_id = EXCLUDED.worker_id
				THEN worker_leases.stop_requested_at ELSE NULL END,
			stop_requested_by = CASE WHEN worker_leases.worker_id = EXCLUDED.worker_id
				THEN worker_leases.stop_requested_by ELSE NULL END
		WHERE worker_leases.expires_at <= EXCLUDED.acquired_at
		   OR worker_leases.worker_id = EXCLUDED.worker_id
		RETURNING worker_id::text
	`, req.Pool, req.WorkerID, now, now.Add(req.TTL)).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", req.Pool, err)
	}
	return holder == req.WorkerID, nil
}

// RenewLease extends the lease for its holder and reports any pending stop request.
// Held is false once another worker has taken the pool.
func (r *WorkerRepo) RenewLease(ctx context.Context, req model.LeaseRequest) (model.LeaseRenewal, error) {
	var stop bool
	err := r.DB.QueryRowContext(ctx, `
		UPDATE worker_leases SET expires_at = $3
		WHERE pool = $1 AND worker_id = $2::uuid
		RETURNING stop_requested_at IS NOT NULL
	`, req.Pool, req.WorkerID, r.timeProvider.Now().Add(req.TTL)).Scan(&stop)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LeaseRenewal{}, nil
	}
	if err != nil {
		return model.LeaseRenewal{}, fmt.Errorf("renew lease %s: %w", req.Pool, err)
	}
	return model.LeaseRenewal{Held: true, StopRequested: stop}, nil
}

// ReleaseLease deletes the lease row when workerID holds it.
func (r *WorkerRepo) ReleaseLease(ctx context.Context, pool, workerID string) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM worker_leases WHERE pool = $1 AND worker_id = $2::uuid`, pool, workerID)
	if err != nil {
		return false, fmt.Errorf("release lease %s: %w", pool, err)
	}
	return n > 0, nil
}

// RequestStop asks the current holder of a live lease to stop. It returns false when
// the pool has no live lease.
func (r *WorkerRepo) RequestStop(ctx context.Context, pool, requestedBy string) (bool, error) {
	now := r.timeProvider.Now()
	n, err := r.exec(ctx, `
		UPDATE worker_leases
		SET stop_requested_at = COALESCE(stop_requested_at, $2),
			stop_requested_by = COALESCE(stop_requested_by, $3)
		WHERE pool = $1 AND expires_at > $2
	`, pool, now, requestedBy)
	if err != nil {
		return false, fmt.Errorf("request stop for %s: %w", pool, err)
	}
	return n > 0, nil
}

// GetLease returns the lease row for pool, live or expired.
func (r *WorkerRepo) GetLease(ctx context.Context, pool string) (*model.WorkerLease, error) {
	var lease *model.WorkerLease
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+leaseColumns+` FROM worker_leases WHERE pool = $1`, pool)
		if err != nil {
			return err
		}
		defer rows.Close()
		lease, err = pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.WorkerLease])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLeaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lease %s: %w", pool, err)
	}
	lease.AcquiredAt = lease.AcquiredAt.UTC()
	lease.ExpiresAt = lease.ExpiresAt.UTC()
	lease.StopRequestedAt = utcPtr(lease.StopRequestedAt)
	return lease, nil
}
