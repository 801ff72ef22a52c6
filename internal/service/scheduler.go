package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/core"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	apperrors "github.com/target/mmk-jobcoord/internal/errors"
)

const defaultSchedulerBatchSize = 25

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Repo    core.ScheduleRepository
	Enqueue *EnqueueService
	Runs    *RunService
	Config  config.SchedulerConfig
	Logger  *slog.Logger
}

// SchedulerService enqueues jobs on fixed intervals.
//
// Concurrency safety across replicas:
// - TryWithJobLock holds a per-job advisory lock while a schedule is processed,
// - MarkQueued only applies when last_queued_at still matches what was read.
//
// Overrun policy is "skip": a schedule whose job still has a queued or running run
// advances its slot without enqueueing.
type SchedulerService struct {
	repo    core.ScheduleRepository
	enqueue *EnqueueService
	runs    *RunService
	cfg     config.SchedulerConfig
	logger  *slog.Logger
}

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ScheduleRepository is required")
	}
	if opts.Enqueue == nil || opts.Runs == nil {
		return nil, errors.New("EnqueueService and RunService are required")
	}
	cfg := opts.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSchedulerBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SchedulerService{
		repo:    opts.Repo,
		enqueue: opts.Enqueue,
		runs:    opts.Runs,
		cfg:     cfg,
		logger:  logger.With("component", "scheduler_service"),
	}, nil
}

// Tick processes due schedules and returns how many runs it enqueued.
//
// Algorithm:
// 1. Find due schedules, limited by the batch size
// 2. For each, try to take the per-job lock; skip when another replica holds it
// 3. Claim the slot with MarkQueued, then enqueue unless the job is still active.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.FindDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find due schedules: %w", err)
	}

	processed := 0
	for _, sched := range due {
		enqueued := false
		locked, lockErr := s.repo.TryWithJobLock(ctx, sched.JobName, func(ctx context.Context) error {
			var procErr error
			enqueued, procErr = s.processSchedule(ctx, sched, now)
			return procErr
		})
		if lockErr != nil {
			return processed, fmt.Errorf("process schedule %s: %w", sched.JobName, lockErr)
		}
		if locked && enqueued {
			processed++
		}
	}
	return processed, nil
}

// processSchedule runs under the job lock. It reports whether a run was enqueued.
func (s *SchedulerService) processSchedule(ctx context.Context, sched model.ScheduledJob, now time.Time) (bool, error) {
	if !sched.Due(now) {
		return false, nil
	}

	active, err := s.runs.HasActiveRun(ctx, sched.JobName)
	if err != nil {
		return false, err
	}

	owned, err := s.repo.MarkQueued(ctx, model.MarkScheduleQueuedParams{
		ID:   sched.ID,
		Now:  now,
		Prev: sched.LastQueuedAt,
	})
	if err != nil {
		return false, err
	}
	if !owned {
		s.logger.DebugContext(ctx, "schedule already fired elsewhere", "job", sched.JobName)
		return false, nil
	}

	if active {
		s.logger.InfoContext(ctx, "skipping scheduled run; previous run still active", "job", sched.JobName)
		return false, nil
	}

	id, err := s.enqueue.EnqueueOne(ctx, EnqueueRequest{
		JobName:     sched.JobName,
		Params:      sched.Params,
		TriggeredBy: "scheduler",
		Trigger:     model.TriggerScheduled,
	})
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", sched.JobName, err)
	}
	s.logger.InfoContext(ctx, "scheduled run enqueued", "job", sched.JobName, "run_id", id, "interval", sched.Interval)
	return true, nil
}

// Sync upserts the given schedules after checking each names a registered job.
func (s *SchedulerService) Sync(ctx context.Context, defs []ScheduleDefinition) error {
	registry := s.runs.Registry()
	for _, def := range defs {
		if _, ok := registry.Definition(def.Job); !ok {
			return apperrors.UnknownJob(def.Job)
		}
	}

	for _, def := range defs {
		params, err := json.Marshal(def.Params)
		if err != nil {
			return apperrors.InvalidParameters("params", fmt.Sprintf("schedule %s: %v", def.Job, err))
		}
		if def.Params == nil {
			params = nil
		}
		req := &model.UpsertScheduleRequest{
			JobName:  def.Job,
			Interval: def.Every,
			Params:   params,
			Enabled:  def.IsEnabled(),
		}
		if err := req.Validate(); err != nil {
			return apperrors.InvalidParameters("schedule", fmt.Sprintf("schedule %s: %v", def.Job, err))
		}
		if _, err := s.repo.Upsert(ctx, req); err != nil {
			return mapRepoError(err)
		}
	}

	if len(defs) > 0 {
		s.logger.InfoContext(ctx, "schedules synced", "count", len(defs))
	}
	return nil
}

// List returns every schedule.
func (s *SchedulerService) List(ctx context.Context) ([]model.ScheduledJob, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return out, nil
}

// SetEnabled toggles the schedule for jobName.
func (s *SchedulerService) SetEnabled(ctx context.Context, jobName string, enabled bool) error {
	return mapRepoError(s.repo.SetEnabled(ctx, jobName, enabled))
}
