package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/core"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	obserrors "github.com/target/mmk-jobcoord/internal/observability/errors"
	"github.com/target/mmk-jobcoord/internal/observability/metrics"
	"github.com/target/mmk-jobcoord/internal/observability/notify"
	"github.com/target/mmk-jobcoord/internal/observability/statsd"
	"github.com/target/mmk-jobcoord/internal/service/failurenotifier"
)

// DefaultStallThreshold is how old a running run's heartbeat may get before the reaper fails it.
const DefaultStallThreshold = 5 * time.Minute

// ReaperRepositories groups the stores the reaper touches. Only Reaper is required.
type ReaperRepositories struct {
	Reaper  core.ReaperRepository
	Runs    core.RunRepository    // Optional: loads reaped runs for notifications
	Workers core.WorkerRepository // Optional: stops stale worker instances
	Logs    core.JobLogRepository // Optional: writes a log line per reaped run
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repos           ReaperRepositories
	Config          config.ReaperConfig
	Logger          *slog.Logger              // Optional: structured logger
	Metrics         statsd.Sink               // Optional: metrics sink (StatsD-compatible)
	FailureNotifier *failurenotifier.Service  // Optional: failure notification fan-out
	// CancelBlocked enables cancelling queued runs whose in-batch dependency failed.
	// Only useful when workers gate claims on dependencies.
	CancelBlocked bool
}

// ReaperService recovers from crashed workers.
//
// Each cycle:
// - fails running runs whose heartbeat is older than the stall threshold,
// - cancels gated runs that can never become eligible,
// - marks worker instances with stale heartbeats as stopped.
type ReaperService struct {
	repos         ReaperRepositories
	config        config.ReaperConfig
	logger        *slog.Logger
	metrics       statsd.Sink
	notifier      *failurenotifier.Service
	cancelBlocked bool
	now           func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repos.Reaper == nil {
		return nil, errors.New("ReaperRepository is required")
	}

	cfg := opts.Config
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = DefaultStallThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_service")
	logger.Debug("ReaperService initialized",
		"interval", cfg.Interval,
		"stall_threshold", cfg.StallThreshold,
		"stale_worker_after", cfg.StaleWorkerAfter,
		"cancel_blocked", opts.CancelBlocked,
	)

	return &ReaperService{
		repos:         opts.Repos,
		config:        cfg,
		logger:        logger,
		metrics:       opts.Metrics,
		notifier:      opts.FailureNotifier,
		cancelBlocked: opts.CancelBlocked,
		now:           time.Now,
	}, nil
}

// Sweep fails every running run whose heartbeat is older than threshold (or missing)
// and returns the affected ids. A non-positive threshold uses the configured one.
// When another sweeper holds the lock the result is empty.
func (s *ReaperService) Sweep(ctx context.Context, threshold time.Duration) ([]int64, error) {
	if threshold <= 0 {
		threshold = s.config.StallThreshold
	}

	var all []int64
	for {
		ids, err := s.repos.Reaper.SweepStalled(ctx, model.SweepParams{
			Threshold: threshold,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return all, mapRepoError(err)
		}
		for _, id := range ids {
			s.afterReap(ctx, id)
		}
		all = append(all, ids...)

		if s.config.BatchSize <= 0 || len(ids) < s.config.BatchSize {
			break
		}
		if ctx.Err() != nil {
			return all, ctx.Err()
		}
	}

	if len(all) > 0 {
		s.logger.InfoContext(ctx, "failed stalled runs", "count", len(all), "threshold", threshold, "run_ids", all)
	}
	return all, nil
}

// afterReap records the reap in the run's log, metrics and failure notifications.
// Failures here are logged; the run is already failed.
func (s *ReaperService) afterReap(ctx context.Context, runID int64) {
	if s.repos.Logs != nil {
		_, err := s.repos.Logs.Append(ctx, &model.AppendLogRequest{
			RunID:   runID,
			Level:   model.LogLevelError,
			Stage:   "reaper",
			Message: model.StalledRunError,
			Context: map[string]any{"stall_threshold": s.config.StallThreshold.String()},
		})
		if err != nil {
			s.logger.WarnContext(ctx, "append reap log failed", "run_id", runID, "error", err)
		}
	}

	var run *model.JobRun
	if s.repos.Runs != nil {
		var err error
		run, err = s.repos.Runs.GetByID(ctx, runID)
		if err != nil {
			s.logger.WarnContext(ctx, "load reaped run failed", "run_id", runID, "error", err)
		}
	}

	jobName := "unknown"
	if run != nil {
		jobName = run.JobName
	}
	metrics.EmitRunTransition(s.metrics, metrics.RunMetric{
		Job:        jobName,
		Transition: metrics.TransitionReaped,
		Result:     metrics.ResultSuccess,
	})

	if !s.notifier.Enabled() {
		return
	}
	payload := notify.RunFailurePayload{
		RunID:      runID,
		JobName:    jobName,
		Source:     notify.SourceReaper,
		Error:      model.StalledRunError,
		ErrorClass: "stalled",
		OccurredAt: s.now(),
		Metadata: map[string]string{
			"stall_threshold": s.config.StallThreshold.String(),
		},
	}
	if run != nil {
		payload.Trigger = string(run.Trigger)
		if run.WorkerID != nil {
			payload.WorkerID = *run.WorkerID
		}
		if run.LastHeartbeatAt != nil {
			payload.Metadata["last_heartbeat_at"] = run.LastHeartbeatAt.UTC().Format(time.RFC3339)
		}
		if run.DurationMs != nil {
			payload.Metadata["duration_ms"] = strconv.FormatInt(*run.DurationMs, 10)
		}
	}
	s.notifier.NotifyRunFailure(ctx, payload)
}

// CancelBlocked cancels queued runs whose in-batch dependency failed or was cancelled.
func (s *ReaperService) CancelBlocked(ctx context.Context) ([]int64, error) {
	ids, err := s.repos.Reaper.CancelBlockedRuns(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	for _, id := range ids {
		if s.repos.Logs == nil {
			break
		}
		if _, logErr := s.repos.Logs.Append(ctx, &model.AppendLogRequest{
			RunID:   id,
			Level:   model.LogLevelWarn,
			Stage:   "reaper",
			Message: "cancelled: a dependency in the same batch did not succeed",
		}); logErr != nil {
			s.logger.WarnContext(ctx, "append blocked-run log failed", "run_id", id, "error", logErr)
		}
	}
	if len(ids) > 0 {
		s.logger.InfoContext(ctx, "cancelled blocked runs", "count", len(ids), "run_ids", ids)
	}
	return ids, nil
}

// StopStaleWorkers marks running worker instances with stale heartbeats as stopped.
func (s *ReaperService) StopStaleWorkers(ctx context.Context) ([]string, error) {
	if s.repos.Workers == nil || s.config.StaleWorkerAfter <= 0 {
		return nil, nil
	}
	ids, err := s.repos.Workers.MarkStaleStopped(ctx, s.config.StaleWorkerAfter)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if len(ids) > 0 {
		s.logger.InfoContext(ctx, "stopped stale workers", "count", len(ids), "worker_ids", ids)
	}
	return ids, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	// Spread replicas that start together.
	s.waitWithJitter(ctx)

	ticker := jitterbug.New(s.config.Interval, &jitterbug.Norm{Stdev: s.config.Interval / 20})
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(ctx, err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(ctx, err, "cleanup")
			}
		}
	}
}

// waitWithJitter sleeps a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := s.config.Interval / 10
	if maxJitter <= 0 {
		return
	}
	jitter := rand.N(maxJitter) //nolint:gosec // scheduling jitter, not security sensitive

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// RunOnce performs one reaper cycle.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		results            []stepResult
	)

	steps := []cleanupStep{
		{
			label:     "fail stalled runs",
			operation: "fail_stalled",
			fn: func(ctx context.Context) (int, error) {
				ids, err := s.Sweep(ctx, 0)
				return len(ids), err
			},
		},
		{
			label:     "cancel blocked runs",
			operation: "cancel_blocked",
			enabled:   func() bool { return s.cancelBlocked },
			fn: func(ctx context.Context) (int, error) {
				ids, err := s.CancelBlocked(ctx)
				return len(ids), err
			},
		},
		{
			label:     "stop stale workers",
			operation: "stop_stale_workers",
			fn: func(ctx context.Context) (int, error) {
				ids, err := s.StopStaleWorkers(ctx)
				return len(ids), err
			},
		},
	}

	for _, step := range steps {
		if step.enabled != nil && !step.enabled() {
			continue
		}
		count, err := step.fn(ctx)
		results = append(results, stepResult{
			operation: step.operation,
			count:     count,
			err:       suppressContextCancellation(err),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allContextCanceled = allContextCanceled && isContextCancellation(err)
		}
	}

	s.emitCleanupMetrics(results, time.Since(start))

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}
	return nil
}

type cleanupStep struct {
	label     string
	operation string
	enabled   func() bool
	fn        func(context.Context) (int, error)
}

type stepResult struct {
	operation string
	count     int
	err       error
}

func (s *ReaperService) emitCleanupMetrics(results []stepResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	total := 0
	errs := make([]error, 0, len(results))
	for _, r := range results {
		total += r.count
		errs = append(errs, r.err)
	}
	firstErr := firstError(errs...)

	tags := map[string]string{"result": metrics.ResultFor(total, firstErr)}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}

	for _, r := range results {
		opTags := map[string]string{
			"operation": r.operation,
			"result":    metrics.ResultFor(r.count, r.err),
		}
		if r.err != nil {
			if class := obserrors.Classify(r.err); class != "" {
				opTags["error_class"] = class
			}
		}
		s.metrics.Count("reaper.cleanup_operation", 1, opTags)
		if r.err == nil && r.count > 0 {
			s.metrics.Count("reaper.items_processed", int64(r.count), metrics.CloneTags(opTags))
		}
	}

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(s.now().Unix()), nil)
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error, label string) {
	if err == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}
