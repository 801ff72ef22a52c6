// Package jobrunner claims queued runs, executes them through the job registry and
// supervises the single live worker of a pool.
package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/core"
	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	obserrors "github.com/target/mmk-jobcoord/internal/observability/errors"
	"github.com/target/mmk-jobcoord/internal/observability/metrics"
	"github.com/target/mmk-jobcoord/internal/observability/notify"
	"github.com/target/mmk-jobcoord/internal/observability/statsd"
	"github.com/target/mmk-jobcoord/internal/service"
	"github.com/target/mmk-jobcoord/internal/service/failurenotifier"
)

// interruptedError is recorded when the worker stops while a handler is still executing.
const interruptedError = "interrupted: worker stopped before the run finished"

// finishTimeout bounds the terminal write made after the runner context is gone.
const finishTimeout = 10 * time.Second

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	WorkerID string                     // Required: owning worker instance id
	Runs     *service.RunService        // Required: run state machine
	Cancel   *service.CancelCoordinator // Required: cancellation checks
	Config   config.WorkerConfig

	Logs            core.JobLogRepository          // Optional: run log lines
	Workers         *service.WorkerRegistryService // Optional: jobs_processed counter
	Notifier        job.Notifier                   // Optional: LISTEN/NOTIFY wakeups
	FailureNotifier *failurenotifier.Service       // Optional: failed-run announcements
	Metrics         statsd.Sink
	Logger          *slog.Logger
}

// Runner pulls runs and executes them with the registered handlers.
type Runner struct {
	workerID string
	runs     *service.RunService
	cancel   *service.CancelCoordinator
	registry *job.Registry
	logs     core.JobLogRepository
	workers  *service.WorkerRegistryService
	notifier job.Notifier
	failures *failurenotifier.Service
	metrics  statsd.Sink
	logger   *slog.Logger
	cfg      config.WorkerConfig
	jobNames []string
}

// NewRunner validates options and constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}
	if opts.Runs == nil || opts.Cancel == nil {
		return nil, errors.New("RunService and CancelCoordinator are required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := opts.Runs.Registry()
	jobNames, err := resolveJobNames(registry, cfg.Jobs)
	if err != nil {
		return nil, err
	}

	return &Runner{
		workerID: opts.WorkerID,
		runs:     opts.Runs,
		cancel:   opts.Cancel,
		registry: registry,
		logs:     opts.Logs,
		workers:  opts.Workers,
		notifier: opts.Notifier,
		failures: opts.FailureNotifier,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "job_runner", "worker_id", opts.WorkerID),
		cfg:      cfg,
		jobNames: jobNames,
	}, nil
}

// resolveJobNames expands the configured job filters (names or doublestar globs)
// against the registry. An empty filter means every job.
func resolveJobNames(registry *job.Registry, filters []string) ([]string, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{})
	var names []string
	for _, f := range filters {
		defs, err := registry.Match(f)
		if err != nil {
			return nil, fmt.Errorf("worker job filter: %w", err)
		}
		for _, d := range defs {
			if _, ok := seen[d.Name]; ok {
				continue
			}
			seen[d.Name] = struct{}{}
			names = append(names, d.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("worker job filter %v matches no registered job", filters)
	}
	return names, nil
}

// Run starts the configured number of worker loops and blocks until ctx ends or a
// loop fails. Runs in flight when ctx ends are finished as failed.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"concurrency", r.cfg.Concurrency,
		"jobs", r.jobNames,
		"enforce_dependencies", r.cfg.EnforceDependencies,
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.cfg.Concurrency {
		g.Go(func() error {
			return r.workerLoop(gctx, i)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) workerLoop(ctx context.Context, slot int) error {
	var wake <-chan struct{}
	if r.notifier != nil {
		unsub, ch := r.notifier.Subscribe(job.QueuedChannel)
		defer unsub()
		wake = ch
	}
	// Bounds claim attempts when notifications arrive in bursts.
	limiter := rate.NewLimiter(rate.Every(r.cfg.PollInterval/4), 1)

	for ctx.Err() == nil {
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		run, err := r.runs.Claim(ctx, model.ClaimParams{
			WorkerID:            r.workerID,
			JobNames:            r.jobNames,
			EnforceDependencies: r.cfg.EnforceDependencies,
		})
		switch {
		case err == nil:
			r.processRun(ctx, run)
		case errors.Is(err, model.ErrNoRunsAvailable):
			r.waitForWork(ctx, wake)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			// Claim errors are transient from the loop's point of view; back off and retry.
			r.logger.ErrorContext(ctx, "claim failed", "slot", slot, "error", err)
			r.waitForWork(ctx, nil)
		}
	}
	return ctx.Err()
}

// waitForWork blocks until a queued notification, the poll interval, or ctx end.
func (r *Runner) waitForWork(ctx context.Context, wake <-chan struct{}) {
	timer := time.NewTimer(r.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}

func (r *Runner) processRun(ctx context.Context, run *model.JobRun) {
	start := time.Now()
	logger := r.logger.With("run_id", run.ID, "job", run.JobName)

	ec := newExecContext(execContextOptions{
		run:       run,
		workerID:  r.workerID,
		runs:      r.runs,
		cancel:    r.cancel,
		logs:      r.logs,
		logger:    logger,
		pollEvery: r.cfg.CancelPollInterval,
	})
	ec.Log(ctx, model.LogLevelInfo, "start", "run started", map[string]any{"worker_id": r.workerID})

	outcome, runErr := r.execute(ctx, run, ec)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	finished, err := r.runs.Finish(finishCtx, model.FinishParams{
		RunID:    run.ID,
		WorkerID: r.workerID,
		Outcome:  outcome,
	})
	switch {
	case err != nil:
		logger.ErrorContext(finishCtx, "finish run failed", "status", outcome.Status, "error", err)
	case !finished:
		// Reaped or otherwise finished elsewhere; the stored outcome stands.
		logger.WarnContext(finishCtx, "run was no longer owned when finishing", "status", outcome.Status)
	}

	ec.Log(finishCtx, levelFor(outcome.Status), "finish", "run "+string(outcome.Status), finishFields(outcome, time.Since(start)))
	r.cancel.Clear(finishCtx, run.ID)

	if r.workers != nil {
		if err := r.workers.IncrementProcessed(finishCtx, r.workerID); err != nil {
			logger.WarnContext(finishCtx, "increment processed failed", "error", err)
		}
	}

	r.emit(run, outcome, time.Since(start), runErr)
	if finished && outcome.Status == model.RunStatusFailed {
		r.notifyFailure(finishCtx, run, outcome, runErr)
	}
}

// execute runs the handler and maps its result to a terminal outcome.
func (r *Runner) execute(ctx context.Context, run *model.JobRun, ec *execContext) (model.Outcome, error) {
	h, ok := r.registry.Lookup(run.JobName)
	if !ok {
		err := fmt.Errorf("no handler registered for job %s", run.JobName)
		return model.Outcome{Status: model.RunStatusFailed, Error: err.Error()}, err
	}

	stopHeartbeat := r.startRunHeartbeat(ctx, run, ec)
	res, err := safeExecute(ctx, h, ec, run.Metadata)
	stopHeartbeat()

	switch {
	case errors.Is(err, job.ErrCancelled):
		return model.Outcome{Status: model.RunStatusCancelled}, nil
	case err != nil && ctx.Err() != nil:
		return model.Outcome{Status: model.RunStatusFailed, Error: interruptedError}, err
	case err != nil:
		return model.Outcome{Status: model.RunStatusFailed, Error: err.Error()}, err
	case ec.cancelObserved():
		return model.Outcome{Status: model.RunStatusCancelled}, nil
	}

	var summary json.RawMessage
	if res.Summary != nil {
		raw, mErr := json.Marshal(res.Summary)
		if mErr != nil {
			mErr = fmt.Errorf("encode outcome summary: %w", mErr)
			return model.Outcome{Status: model.RunStatusFailed, Error: mErr.Error()}, mErr
		}
		summary = raw
	}
	return model.Outcome{Status: model.RunStatusSucceeded, Summary: summary}, nil
}

// safeExecute turns a handler panic into an error so one bad job cannot take the worker down.
func safeExecute(
	ctx context.Context,
	h job.Handler,
	ec job.ExecContext,
	params json.RawMessage,
) (res job.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.Execute(ctx, ec, params)
}

// startRunHeartbeat refreshes last_heartbeat_at until the returned stop func is called.
func (r *Runner) startRunHeartbeat(ctx context.Context, run *model.JobRun, ec *execContext) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		interval := r.cfg.RunHeartbeatInterval
		ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10})
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				ok, err := r.runs.Heartbeat(hbCtx, model.RunHeartbeat{RunID: run.ID, WorkerID: r.workerID})
				if err != nil {
					if hbCtx.Err() == nil {
						r.logger.WarnContext(hbCtx, "run heartbeat failed", "run_id", run.ID, "error", err)
					}
					continue
				}
				if !ok {
					// The run is no longer ours (reaped); ask the handler to stop.
					ec.markCancelled()
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) emit(run *model.JobRun, outcome model.Outcome, elapsed time.Duration, err error) {
	transition := metrics.TransitionSucceeded
	result := metrics.ResultSuccess
	switch outcome.Status {
	case model.RunStatusFailed:
		transition = metrics.TransitionFailed
		result = metrics.ResultError
	case model.RunStatusCancelled:
		transition = metrics.TransitionCancelled
	}
	metrics.EmitRunTransition(r.metrics, metrics.RunMetric{
		Job:        run.JobName,
		Transition: transition,
		Result:     result,
		Duration:   elapsed,
		Err:        err,
	})
}

func (r *Runner) notifyFailure(ctx context.Context, run *model.JobRun, outcome model.Outcome, err error) {
	if !r.failures.Enabled() {
		return
	}
	payload := notify.RunFailurePayload{
		RunID:      run.ID,
		JobName:    run.JobName,
		Trigger:    string(run.Trigger),
		WorkerID:   r.workerID,
		Source:     notify.SourceHandler,
		Error:      outcome.Error,
		OccurredAt: time.Now(),
		Metadata: map[string]string{
			"triggered_by": run.TriggeredBy,
		},
	}
	if err != nil {
		payload.ErrorClass = obserrors.Classify(err)
	}
	if run.Version != "" {
		payload.Metadata["version"] = run.Version
	}
	r.failures.NotifyRunFailure(ctx, payload)
}

func levelFor(status model.RunStatus) model.LogLevel {
	switch status {
	case model.RunStatusFailed:
		return model.LogLevelError
	case model.RunStatusCancelled:
		return model.LogLevelWarn
	default:
		return model.LogLevelInfo
	}
}

func finishFields(outcome model.Outcome, elapsed time.Duration) map[string]any {
	fields := map[string]any{"elapsed_ms": elapsed.Milliseconds()}
	if outcome.Error != "" {
		fields["error"] = outcome.Error
	}
	return fields
}
