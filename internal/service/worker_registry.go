package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/mmk-jobcoord/internal/core"
	"github.com/target/mmk-jobcoord/internal/data"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	apperrors "github.com/target/mmk-jobcoord/internal/errors"
	"github.com/target/mmk-jobcoord/internal/observability/statsd"
)

const (
	defaultInstanceListLimit = 20
	maxInstanceListLimit     = 200
)

// WorkerRegistryServiceOptions groups dependencies for WorkerRegistryService.
type WorkerRegistryServiceOptions struct {
	Repo    core.WorkerRepository // Required: worker store
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink
}

// WorkerRegistryService tracks worker processes and the per-pool lease.
//
// CountActive answers "is anyone alive in this pool" from heartbeats; the lease row
// decides who may run. Start checks both, but only the lease is race-free.
type WorkerRegistryService struct {
	repo    core.WorkerRepository
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewWorkerRegistryService constructs a new WorkerRegistryService.
func NewWorkerRegistryService(opts WorkerRegistryServiceOptions) (*WorkerRegistryService, error) {
	if opts.Repo == nil {
		return nil, errors.New("WorkerRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerRegistryService{
		repo:    opts.Repo,
		logger:  logger.With("component", "worker_registry"),
		metrics: opts.Metrics,
	}, nil
}

// Register records a new running worker instance.
func (s *WorkerRegistryService) Register(
	ctx context.Context,
	req *model.RegisterWorkerRequest,
) (*model.WorkerInstance, error) {
	if req == nil {
		return nil, apperrors.InvalidParameters("request", "request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.InvalidParametersf("invalid worker registration: %v", err)
	}

	w, err := s.repo.Register(ctx, req)
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.logger.InfoContext(ctx, "worker registered", "worker_id", w.ID, "pool", w.Pool, "hostname", w.Hostname, "pid", w.PID)
	s.count("worker.registered", w.Pool)
	return w, nil
}

// Heartbeat refreshes a running instance. False means the instance was stopped.
func (s *WorkerRegistryService) Heartbeat(ctx context.Context, workerID string) (bool, error) {
	ok, err := s.repo.Heartbeat(ctx, workerID)
	if err != nil {
		return false, mapRepoError(err)
	}
	return ok, nil
}

// Deregister marks the instance stopped. False means it was already stopped.
func (s *WorkerRegistryService) Deregister(ctx context.Context, workerID string) (bool, error) {
	ok, err := s.repo.Deregister(ctx, workerID)
	if err != nil {
		return false, mapRepoError(err)
	}
	if ok {
		s.logger.InfoContext(ctx, "worker deregistered", "worker_id", workerID)
	}
	return ok, nil
}

// IncrementProcessed bumps the instance's finished-run counter.
func (s *WorkerRegistryService) IncrementProcessed(ctx context.Context, workerID string) error {
	return mapRepoError(s.repo.IncrementProcessed(ctx, workerID))
}

// CountActive counts running instances in pool whose heartbeat is inside window.
// A non-positive window uses model.DefaultLivenessWindow.
func (s *WorkerRegistryService) CountActive(ctx context.Context, pool string, window time.Duration) (int, error) {
	if window <= 0 {
		window = model.DefaultLivenessWindow
	}
	n, err := s.repo.CountActive(ctx, normalizePool(pool), window)
	if err != nil {
		return 0, mapRepoError(err)
	}
	return n, nil
}

// ListInstances returns the most recent instances in pool, newest first.
func (s *WorkerRegistryService) ListInstances(ctx context.Context, pool string, limit int) ([]*model.WorkerInstance, error) {
	out, err := s.repo.List(ctx, model.WorkerListOptions{
		Pool:  strings.TrimSpace(pool),
		Limit: clampLimit(limit, defaultInstanceListLimit, maxInstanceListLimit),
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return out, nil
}

// MarkStaleStopped stops running instances whose heartbeat is older than staleAfter.
func (s *WorkerRegistryService) MarkStaleStopped(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	ids, err := s.repo.MarkStaleStopped(ctx, staleAfter)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return ids, nil
}

// AcquireLease takes the pool lease for the worker. False means another live worker holds it.
func (s *WorkerRegistryService) AcquireLease(ctx context.Context, req model.LeaseRequest) (bool, error) {
	if req.WorkerID == "" {
		return false, apperrors.InvalidParameters("worker_id", "worker id is required")
	}
	if req.TTL <= 0 {
		return false, apperrors.InvalidParameters("ttl", "lease ttl must be positive")
	}
	req.Pool = normalizePool(req.Pool)

	ok, err := s.repo.AcquireLease(ctx, req)
	if err != nil {
		return false, mapRepoError(err)
	}
	if ok {
		s.logger.InfoContext(ctx, "pool lease acquired", "pool", req.Pool, "worker_id", req.WorkerID, "ttl", req.TTL)
		s.count("worker.lease_acquired", req.Pool)
	} else {
		s.count("worker.lease_refused", req.Pool)
	}
	return ok, nil
}

// RenewLease extends the lease for its holder and reports pending stop requests.
func (s *WorkerRegistryService) RenewLease(ctx context.Context, req model.LeaseRequest) (model.LeaseRenewal, error) {
	req.Pool = normalizePool(req.Pool)
	renewal, err := s.repo.RenewLease(ctx, req)
	if err != nil {
		return model.LeaseRenewal{}, mapRepoError(err)
	}
	if !renewal.Held {
		s.logger.WarnContext(ctx, "pool lease lost", "pool", req.Pool, "worker_id", req.WorkerID)
		s.count("worker.lease_lost", req.Pool)
	}
	return renewal, nil
}

// ReleaseLease gives up the lease if workerID holds it.
func (s *WorkerRegistryService) ReleaseLease(ctx context.Context, pool, workerID string) (bool, error) {
	ok, err := s.repo.ReleaseLease(ctx, normalizePool(pool), workerID)
	if err != nil {
		return false, mapRepoError(err)
	}
	return ok, nil
}

// RequestStop asks the holder of pool's live lease to stop. False means no live holder.
func (s *WorkerRegistryService) RequestStop(ctx context.Context, pool, requestedBy string) (bool, error) {
	if strings.TrimSpace(requestedBy) == "" {
		return false, apperrors.InvalidParameters("requested_by", "requester is required")
	}
	pool = normalizePool(pool)
	ok, err := s.repo.RequestStop(ctx, pool, requestedBy)
	if err != nil {
		return false, mapRepoError(err)
	}
	s.logger.InfoContext(ctx, "worker stop requested", "pool", pool, "requested_by", requestedBy, "live_holder", ok)
	return ok, nil
}

// GetLease returns the lease row for pool, or nil when the pool has never been leased.
func (s *WorkerRegistryService) GetLease(ctx context.Context, pool string) (*model.WorkerLease, error) {
	lease, err := s.repo.GetLease(ctx, normalizePool(pool))
	if errors.Is(err, data.ErrLeaseNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapRepoError(err)
	}
	return lease, nil
}

// PoolStatus gathers the observability snapshot for pool. LocalRunning is left to the caller.
func (s *WorkerRegistryService) PoolStatus(ctx context.Context, pool string, limit int) (model.WorkerPoolStatus, error) {
	pool = normalizePool(pool)
	status := model.WorkerPoolStatus{Pool: pool}

	active, err := s.CountActive(ctx, pool, 0)
	if err != nil {
		return status, fmt.Errorf("count active workers: %w", err)
	}
	status.ActiveCount = active

	lease, err := s.GetLease(ctx, pool)
	if err != nil {
		return status, fmt.Errorf("get lease: %w", err)
	}
	status.Lease = lease

	instances, err := s.ListInstances(ctx, pool, limit)
	if err != nil {
		return status, fmt.Errorf("list instances: %w", err)
	}
	status.Instances = make([]model.WorkerInstance, 0, len(instances))
	for _, w := range instances {
		status.Instances = append(status.Instances, *w)
	}
	return status, nil
}

func (s *WorkerRegistryService) count(name, pool string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count(name, 1, map[string]string{"pool": pool})
}

func normalizePool(pool string) string {
	pool = strings.TrimSpace(pool)
	if pool == "" {
		return model.DefaultWorkerPool
	}
	return pool
}
