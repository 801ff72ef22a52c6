package jobrunner

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/target/mmk-jobcoord/internal/core"
	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	"github.com/target/mmk-jobcoord/internal/service"
)

type execContextOptions struct {
	run       *model.JobRun
	workerID  string
	runs      *service.RunService
	cancel    *service.CancelCoordinator
	logs      core.JobLogRepository
	logger    *slog.Logger
	pollEvery time.Duration
}

// execContext is the job.ExecContext handed to a handler for one run.
//
// CancelRequested is called freely by handlers, so store lookups are rate limited
// and a positive answer is sticky for the rest of the run.
type execContext struct {
	run      *model.JobRun
	workerID string
	runs     *service.RunService
	cancel   *service.CancelCoordinator
	logs     core.JobLogRepository
	logger   *slog.Logger

	checks    *rate.Limiter
	cancelled atomic.Bool
}

func newExecContext(opts execContextOptions) *execContext {
	ec := &execContext{
		run:      opts.run,
		workerID: opts.workerID,
		runs:     opts.runs,
		cancel:   opts.cancel,
		logs:     opts.logs,
		logger:   opts.logger,
		checks:   rate.NewLimiter(rate.Every(opts.pollEvery), 1),
	}
	if opts.run.CancelRequested() {
		ec.cancelled.Store(true)
	}
	return ec
}

func (e *execContext) RunID() int64 { return e.run.ID }

func (e *execContext) CancelRequested(ctx context.Context) bool {
	if e.cancelled.Load() {
		return true
	}
	if !e.checks.Allow() {
		return false
	}
	requested, err := e.cancel.CancelRequested(ctx, e.run.ID)
	if err != nil {
		e.logger.DebugContext(ctx, "cancel check failed", "error", err)
		return false
	}
	if requested {
		e.markCancelled()
		e.logger.InfoContext(ctx, "cancellation observed")
	}
	return requested
}

func (e *execContext) ReportProgress(ctx context.Context, p model.Progress) error {
	if p.IsZero() {
		return nil
	}
	ok, err := e.runs.Heartbeat(ctx, model.RunHeartbeat{RunID: e.run.ID, WorkerID: e.workerID, Progress: &p})
	if err != nil {
		return err
	}
	if !ok {
		e.markCancelled()
	}
	return nil
}

func (e *execContext) Log(ctx context.Context, level model.LogLevel, stage, message string, fields map[string]any) {
	if e.logs == nil {
		return
	}
	_, err := e.logs.Append(ctx, &model.AppendLogRequest{
		RunID:   e.run.ID,
		Level:   level,
		Stage:   stage,
		Message: message,
		Context: fields,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "append job log failed", "stage", stage, "error", err)
	}
}

func (e *execContext) markCancelled() { e.cancelled.Store(true) }

func (e *execContext) cancelObserved() bool { return e.cancelled.Load() }

var _ job.ExecContext = (*execContext)(nil)
