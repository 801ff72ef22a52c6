// Package core declares the ports between the service layer and the stores.
package core

import (
	"context"
	"time"

	"github.com/target/mmk-jobcoord/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on the pgx repositories.

// RunRepository defines the persistent run store.
//
// Every transition is a guarded conditional update. A guard miss is reported as
// (false, nil) or a nil run, never as an error.
type RunRepository interface {
	Create(ctx context.Context, req *model.CreateRunRequest) (*model.JobRun, error)
	// CreateBatch inserts every request in one transaction; either all runs exist afterwards or none do.
	CreateBatch(ctx context.Context, reqs []*model.CreateRunRequest) ([]*model.JobRun, error)
	// Claim moves the oldest eligible queued run to running. Returns model.ErrNoRunsAvailable when none is eligible.
	Claim(ctx context.Context, params model.ClaimParams) (*model.JobRun, error)
	Heartbeat(ctx context.Context, hb model.RunHeartbeat) (bool, error)
	Finish(ctx context.Context, params model.FinishParams) (bool, error)
	RequestCancel(ctx context.Context, params model.CancelParams) (model.CancelResult, *model.JobRun, error)
	IsCancelRequested(ctx context.Context, runID int64) (bool, error)
	GetByID(ctx context.Context, id int64) (*model.JobRun, error)
	HasActiveRun(ctx context.Context, jobName string) (bool, error)
	List(ctx context.Context, opts model.RunListOptions) ([]*model.JobRun, error)
	ListActive(ctx context.Context, limit int) ([]*model.JobRun, error)
	Stats(ctx context.Context) (*model.RunStats, error)
	WaitForNotification(ctx context.Context, channel string) error
}

// ReaperRepository defines the maintenance operations run by the reaper.
type ReaperRepository interface {
	// SweepStalled fails running runs whose heartbeat is older than the threshold and returns their ids.
	SweepStalled(ctx context.Context, params model.SweepParams) ([]int64, error)
	// CancelBlockedRuns cancels queued runs whose in-batch dependency ended unsuccessfully.
	CancelBlockedRuns(ctx context.Context) ([]int64, error)
}

// WorkerRepository defines worker instance liveness and the pool lease.
type WorkerRepository interface {
	Register(ctx context.Context, req *model.RegisterWorkerRequest) (*model.WorkerInstance, error)
	Heartbeat(ctx context.Context, workerID string) (bool, error)
	Deregister(ctx context.Context, workerID string) (bool, error)
	IncrementProcessed(ctx context.Context, workerID string) error
	CountActive(ctx context.Context, pool string, window time.Duration) (int, error)
	List(ctx context.Context, opts model.WorkerListOptions) ([]*model.WorkerInstance, error)
	MarkStaleStopped(ctx context.Context, staleAfter time.Duration) ([]string, error)

	AcquireLease(ctx context.Context, req model.LeaseRequest) (bool, error)
	RenewLease(ctx context.Context, req model.LeaseRequest) (model.LeaseRenewal, error)
	ReleaseLease(ctx context.Context, pool, workerID string) (bool, error)
	RequestStop(ctx context.Context, pool, requestedBy string) (bool, error)
	GetLease(ctx context.Context, pool string) (*model.WorkerLease, error)
}

// JobLogRepository defines the append-only run log.
type JobLogRepository interface {
	Append(ctx context.Context, req *model.AppendLogRequest) (*model.JobLog, error)
	ListByRun(ctx context.Context, opts model.LogListOptions) ([]*model.JobLog, error)
}

// ScheduleRepository defines interval schedule storage.
type ScheduleRepository interface {
	Upsert(ctx context.Context, req *model.UpsertScheduleRequest) (*model.ScheduledJob, error)
	List(ctx context.Context) ([]model.ScheduledJob, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error)
	// MarkQueued records a fire only when last_queued_at still equals p.Prev.
	MarkQueued(ctx context.Context, p model.MarkScheduleQueuedParams) (bool, error)
	SetEnabled(ctx context.Context, jobName string, enabled bool) error
	// TryWithJobLock runs fn while holding the per-job scheduler lock.
	// Return semantics:
	//   - (false, nil): lock not acquired; fn was not executed
	//   - (true, nil): lock acquired; fn executed and succeeded
	//   - (true, err): lock acquired; fn executed and failed with err
	TryWithJobLock(ctx context.Context, jobName string, fn func(context.Context) error) (bool, error)
}

// CancelSignal is a fast, lossy side channel for cancellation requests.
// The run row stays authoritative; a missing signal only delays observation.
type CancelSignal interface {
	Signal(ctx context.Context, runID int64) error
	Signaled(ctx context.Context, runID int64) (bool, error)
	Clear(ctx context.Context, runID int64) error
}
