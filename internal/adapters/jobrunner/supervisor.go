package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	apperrors "github.com/target/mmk-jobcoord/internal/errors"
	"github.com/target/mmk-jobcoord/internal/service"
)

const (
	statusInstanceLimit = 20
	cleanupTimeout      = 10 * time.Second
)

// ErrStopRequested is returned by Wait when an operator asked the pool's worker to stop.
var ErrStopRequested = errors.New("worker stop requested")

// ErrLeaseLost is returned by Wait when another worker took over the pool lease.
var ErrLeaseLost = errors.New("worker pool lease lost")

// ErrInstanceStopped is returned by Wait when the instance row was marked
// stopped underneath a live worker, usually by the reaper after missed heartbeats.
var ErrInstanceStopped = errors.New("worker instance no longer running")

// SupervisorOptions configures a WorkerSupervisor.
type SupervisorOptions struct {
	Workers *service.WorkerRegistryService // Required: instance registry and pool lease
	Runner  RunnerOptions                  // Required: template for the per-instance runner; WorkerID is filled in
	Config  config.WorkerConfig
	Logger  *slog.Logger

	// Hostname and PID identify the instance; they default to the current process.
	Hostname string
	PID      int
}

// WorkerSupervisor owns the lifecycle of this process's worker for one pool:
// registration, the pool lease, the heartbeat loop and the runner.
//
// At most one worker per pool is live across all processes. Start refuses while
// another instance heartbeats in the pool, and the lease row settles any race
// between two simultaneous starts.
type WorkerSupervisor struct {
	workers  *service.WorkerRegistryService
	template RunnerOptions
	cfg      config.WorkerConfig
	policy   *job.LeasePolicy
	logger   *slog.Logger
	hostname string
	pid      int

	mu       sync.Mutex
	running  bool
	workerID string
	stop     context.CancelFunc
	done     chan struct{}
	exitErr  error
}

// NewWorkerSupervisor validates options and constructs a WorkerSupervisor.
func NewWorkerSupervisor(opts SupervisorOptions) (*WorkerSupervisor, error) {
	if opts.Workers == nil {
		return nil, errors.New("WorkerRegistryService is required")
	}
	if opts.Runner.Runs == nil || opts.Runner.Cancel == nil {
		return nil, errors.New("runner RunService and CancelCoordinator are required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	policy, err := job.NewLeasePolicy(cfg.HeartbeatInterval, cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("lease policy: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hostname := opts.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
	}
	pid := opts.PID
	if pid <= 0 {
		pid = os.Getpid()
	}

	template := opts.Runner
	template.Config = cfg

	return &WorkerSupervisor{
		workers:  opts.Workers,
		template: template,
		cfg:      cfg,
		policy:   policy,
		logger:   logger.With("component", "worker_supervisor", "pool", cfg.Pool),
		hostname: hostname,
		pid:      pid,
	}, nil
}

// Running reports whether this process currently runs the pool's worker.
func (s *WorkerSupervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start registers an instance, takes the pool lease and launches the runner in the
// background. It returns InvalidState when a worker is already live, locally or elsewhere.
func (s *WorkerSupervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return apperrors.InvalidStatef("worker for pool %s is already running in this process", s.cfg.Pool)
	}

	active, err := s.workers.CountActive(ctx, s.cfg.Pool, model.DefaultLivenessWindow)
	if err != nil {
		return fmt.Errorf("count active workers: %w", err)
	}
	if active > 0 {
		return apperrors.InvalidStatef("a worker is already active in pool %s", s.cfg.Pool)
	}

	inst, err := s.workers.Register(ctx, &model.RegisterWorkerRequest{
		Pool:     s.cfg.Pool,
		Hostname: s.hostname,
		PID:      s.pid,
	})
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	lease := s.leaseRequest(inst.ID)
	acquired, err := s.workers.AcquireLease(ctx, lease)
	if err != nil || !acquired {
		s.deregister(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("acquire pool lease: %w", err)
		}
		return apperrors.InvalidStatef("pool %s is leased by another worker", s.cfg.Pool)
	}

	opts := s.template
	opts.WorkerID = inst.ID
	runner, err := NewRunner(opts)
	if err != nil {
		s.release(ctx, inst.ID)
		return fmt.Errorf("build runner: %w", err)
	}

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.workerID = inst.ID
	s.stop = stop
	s.done = make(chan struct{})
	s.exitErr = nil

	go s.supervise(runCtx, runner, inst.ID, s.done)

	s.logger.InfoContext(ctx, "worker started", "worker_id", inst.ID, "lease_ttl", lease.TTL)
	return nil
}

// supervise runs the runner and the instance heartbeat until either stops, then cleans up.
func (s *WorkerSupervisor) supervise(ctx context.Context, runner *Runner, workerID string, done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbErr := make(chan error, 1)
	go func() {
		err := s.heartbeatLoop(ctx, workerID)
		hbErr <- err
		cancel()
	}()

	runErr := runner.Run(ctx)
	cancel()
	exitErr := errors.Join(runErr, <-hbErr)

	cleanupCtx, cleanupCancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cleanupCancel()
	s.release(cleanupCtx, workerID)

	s.mu.Lock()
	s.running = false
	s.workerID = ""
	s.exitErr = exitErr
	s.mu.Unlock()

	if exitErr != nil {
		s.logger.WarnContext(cleanupCtx, "worker exited", "worker_id", workerID, "reason", exitErr)
	} else {
		s.logger.InfoContext(cleanupCtx, "worker stopped", "worker_id", workerID)
	}
}

// heartbeatLoop refreshes the instance and the lease. It returns ErrInstanceStopped,
// ErrStopRequested or ErrLeaseLost when the worker must exit, and nil when ctx ends.
func (s *WorkerSupervisor) heartbeatLoop(ctx context.Context, workerID string) error {
	interval := s.cfg.HeartbeatInterval
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		alive, err := s.workers.Heartbeat(ctx, workerID)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			s.logger.WarnContext(ctx, "worker heartbeat failed", "worker_id", workerID, "error", err)
		case !alive:
			// The row only leaves running through Deregister or the stale-worker
			// sweep; either way this process no longer counts as the pool's worker.
			s.logger.WarnContext(ctx, "worker instance marked stopped", "worker_id", workerID)
			return ErrInstanceStopped
		}

		renewal, err := s.workers.RenewLease(ctx, s.leaseRequest(workerID))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A transient store error; the lease outlives at least one missed renewal.
			s.logger.WarnContext(ctx, "lease renewal failed", "worker_id", workerID, "error", err)
			continue
		}
		if !renewal.Held {
			return ErrLeaseLost
		}
		if renewal.StopRequested {
			s.logger.InfoContext(ctx, "stop requested through pool lease", "worker_id", workerID)
			return ErrStopRequested
		}
	}
}

// Stop ends the local worker, deregisters it and releases the pool lease.
// It returns InvalidState when no worker runs in this process.
func (s *WorkerSupervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return apperrors.InvalidStatef("no worker is running in this process for pool %s", s.cfg.Pool)
	}
	stop, done := s.stop, s.done
	s.mu.Unlock()

	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the local worker exits and returns why it exited.
// A stop requested through Stop returns nil.
func (s *WorkerSupervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

// Status returns the pool snapshot with LocalRunning filled in.
func (s *WorkerSupervisor) Status(ctx context.Context) (model.WorkerPoolStatus, error) {
	status, err := s.workers.PoolStatus(ctx, s.cfg.Pool, statusInstanceLimit)
	if err != nil {
		return status, err
	}
	status.LocalRunning = s.Running()
	return status, nil
}

func (s *WorkerSupervisor) leaseRequest(workerID string) model.LeaseRequest {
	decision := s.policy.Resolve(s.cfg.LeaseTTL)
	return model.LeaseRequest{Pool: s.cfg.Pool, WorkerID: workerID, TTL: decision.TTL}
}

func (s *WorkerSupervisor) release(ctx context.Context, workerID string) {
	if _, err := s.workers.ReleaseLease(ctx, s.cfg.Pool, workerID); err != nil {
		s.logger.WarnContext(ctx, "release pool lease failed", "worker_id", workerID, "error", err)
	}
	s.deregister(ctx, workerID)
}

func (s *WorkerSupervisor) deregister(ctx context.Context, workerID string) {
	if _, err := s.workers.Deregister(ctx, workerID); err != nil {
		s.logger.WarnContext(ctx, "deregister worker failed", "worker_id", workerID, "error", err)
	}
}
