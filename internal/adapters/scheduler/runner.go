// Package scheduler provides adapters for running the interval scheduler.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/core"
	"github.com/target/mmk-jobcoord/internal/data"
	obserrors "github.com/target/mmk-jobcoord/internal/observability/errors"
	"github.com/target/mmk-jobcoord/internal/observability/metrics"
	"github.com/target/mmk-jobcoord/internal/observability/statsd"
	"github.com/target/mmk-jobcoord/internal/service"
)

// Runner provides a simple adapter to run the scheduler loop.
// It constructs the scheduler service and runs a tick loop with a jittered interval.
type Runner struct {
	scheduler *service.SchedulerService
	cfg       config.SchedulerConfig
	clock     data.TimeProvider
	logger    *slog.Logger
	metrics   statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Runs   *service.RunService // Required: enqueues through the registry-bound run service
	Config config.SchedulerConfig
	Logger *slog.Logger

	Metrics      statsd.Sink
	TimeProvider data.TimeProvider

	// Repo overrides the pgx schedule store.
	Repo core.ScheduleRepository
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewScheduleRepo(opts.DB, opts.TimeProvider)
	}

	enqueue, err := service.NewEnqueueService(service.EnqueueServiceOptions{Runs: opts.Runs, Logger: opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("wire enqueue service: %w", err)
	}
	scheduler, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Repo:    repo,
		Enqueue: enqueue,
		Runs:    opts.Runs,
		Config:  opts.Config,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire scheduler service: %w", err)
	}

	return &Runner{
		scheduler: scheduler,
		cfg:       opts.Config,
		clock:     opts.TimeProvider,
		logger:    opts.Logger.With("component", "scheduler_runner"),
		metrics:   opts.Metrics,
	}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repo == nil {
		return errors.New("database connection is required")
	}
	if opts.Runs == nil {
		return errors.New("RunService is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = data.RealTimeProvider{}
	}
	opts.Config.Sanitize()
	return nil
}

// Scheduler exposes the wired service for admin operations.
func (r *Runner) Scheduler() *service.SchedulerService {
	return r.scheduler
}

// SyncFile upserts the schedules from the configured file, if any.
func (r *Runner) SyncFile(ctx context.Context) error {
	if r.cfg.File == "" {
		return nil
	}
	defs, err := service.LoadScheduleFile(r.cfg.File)
	if err != nil {
		return err
	}
	if err := r.scheduler.Sync(ctx, defs); err != nil {
		return fmt.Errorf("sync schedule file %s: %w", r.cfg.File, err)
	}
	r.logger.InfoContext(ctx, "schedule file synced", "file", r.cfg.File, "schedules", len(defs))
	return nil
}

// Run syncs the schedule file, then calls Tick at the configured interval until ctx ends.
// Tick errors are logged and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.SyncFile(ctx); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.cfg.Interval, "batch_size", r.cfg.BatchSize)

	ticker := jitterbug.New(r.cfg.Interval, &jitterbug.Norm{Stdev: r.cfg.Interval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(context.WithoutCancel(ctx), "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	enqueued, err := r.scheduler.Tick(ctx, r.clock.Now())
	elapsed := time.Since(start)

	r.emitTickMetrics(enqueued, elapsed, err)

	switch {
	case err != nil && ctx.Err() == nil:
		r.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
	case enqueued > 0:
		r.logger.InfoContext(ctx, "scheduler enqueued runs", "count", enqueued)
	}
}

func (r *Runner) emitTickMetrics(enqueued int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if enqueued == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("scheduler.tick", 1, tags)
	if enqueued > 0 {
		r.metrics.Count("scheduler.runs_enqueued", int64(enqueued), tags)
	}
	if elapsed > 0 {
		r.metrics.Timing("scheduler.tick_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		r.metrics.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}
