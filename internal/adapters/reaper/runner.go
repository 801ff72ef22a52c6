// Package reaper provides adapters for running the stalled-run reaper.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/data"
	"github.com/target/mmk-jobcoord/internal/observability/statsd"
	"github.com/target/mmk-jobcoord/internal/service"
	"github.com/target/mmk-jobcoord/internal/service/failurenotifier"
)

// Runner provides a simple adapter to run the reaper loop.
// It constructs the reaper service and runs the cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.ReaperConfig
	Logger *slog.Logger

	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
	CancelBlocked   bool
	TimeProvider    data.TimeProvider

	// Repos overrides the pgx stores; fields left nil are wired from DB.
	Repos service.ReaperRepositories
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repos:           wireRepositories(opts),
		Config:          opts.Config,
		Logger:          opts.Logger,
		Metrics:         opts.Metrics,
		FailureNotifier: opts.FailureNotifier,
		CancelBlocked:   opts.CancelBlocked,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: reaper, logger: opts.Logger.With("component", "reaper_runner")}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repos.Reaper == nil {
		return errors.New("database connection is required")
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

// wireRepositories fills every store the caller did not inject. The run repo
// serves both the reaper statements and the run lookups used for notifications.
func wireRepositories(opts RunnerOptions) service.ReaperRepositories {
	repos := opts.Repos
	if opts.DB == nil {
		return repos
	}

	var runs *data.JobRunRepo
	if repos.Reaper == nil || repos.Runs == nil {
		runs = data.NewJobRunRepo(opts.DB, data.RunRepoConfig{Logger: opts.Logger, TimeProvider: opts.TimeProvider})
	}
	if repos.Reaper == nil {
		repos.Reaper = runs
	}
	if repos.Runs == nil {
		repos.Runs = runs
	}
	if repos.Workers == nil {
		repos.Workers = data.NewWorkerRepo(opts.DB, data.WorkerRepoConfig{
			Logger:       opts.Logger,
			TimeProvider: opts.TimeProvider,
		})
	}
	if repos.Logs == nil {
		repos.Logs = data.NewJobLogRepo(opts.DB, opts.TimeProvider)
	}
	return repos
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}

// RunOnce performs a single cleanup cycle; used by the admin CLI.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.reaper.RunOnce(ctx)
}

// Sweep fails stalled runs older than threshold (zero uses the configured threshold).
func (r *Runner) Sweep(ctx context.Context, threshold time.Duration) ([]int64, error) {
	return r.reaper.Sweep(ctx, threshold)
}
