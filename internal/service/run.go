// Package service implements the job coordination use cases on top of the core ports.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/mmk-jobcoord/internal/core"
	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	apperrors "github.com/target/mmk-jobcoord/internal/errors"
	"github.com/target/mmk-jobcoord/internal/observability/metrics"
	"github.com/target/mmk-jobcoord/internal/observability/statsd"
)

const (
	defaultRunListLimit = 50
	maxRunListLimit     = 1000
)

// RunServiceOptions groups dependencies for RunService.
type RunServiceOptions struct {
	Repo     core.RunRepository // Required: run store
	Registry *job.Registry      // Required: registered job definitions
	Logger   *slog.Logger       // Optional: structured logger
	Metrics  statsd.Sink        // Optional: metrics sink
}

// RunService owns the run state machine: create, claim, heartbeat, finish and cancel.
//
// Every transition is delegated to a guarded update in the store; losing a race is
// reported as false or a nil run and never surfaces as an error.
type RunService struct {
	repo     core.RunRepository
	registry *job.Registry
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewRunService constructs a new RunService.
func NewRunService(opts RunServiceOptions) (*RunService, error) {
	if opts.Repo == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("job registry is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RunService{
		repo:     opts.Repo,
		registry: opts.Registry,
		logger:   logger.With("component", "run_service"),
		metrics:  opts.Metrics,
	}, nil
}

// MustNewRunService constructs a new RunService and panics on error.
func MustNewRunService(opts RunServiceOptions) *RunService {
	svc, err := NewRunService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create RunService: %v", err))
	}
	return svc
}

// Registry returns the job registry the service validates against.
func (s *RunService) Registry() *job.Registry {
	return s.registry
}

// Create validates req against the registry and inserts a queued run.
func (s *RunService) Create(ctx context.Context, req *model.CreateRunRequest) (*model.JobRun, error) {
	prepared, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	run, err := s.repo.Create(ctx, prepared)
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.DebugContext(ctx, "run queued", "run_id", run.ID, "job", run.JobName, "trigger", run.Trigger)
	metrics.EmitRunTransition(s.metrics, metrics.RunMetric{
		Job:        run.JobName,
		Transition: metrics.TransitionEnqueued,
		Result:     metrics.ResultSuccess,
	})
	return run, nil
}

// CreateBatch validates every request and inserts them in one transaction, in order.
func (s *RunService) CreateBatch(ctx context.Context, reqs []*model.CreateRunRequest) ([]*model.JobRun, error) {
	if len(reqs) == 0 {
		return nil, apperrors.InvalidParameters("jobs", "at least one job is required")
	}
	prepared := make([]*model.CreateRunRequest, 0, len(reqs))
	for _, req := range reqs {
		p, err := s.prepare(req)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, p)
	}

	runs, err := s.repo.CreateBatch(ctx, prepared)
	if err != nil {
		return nil, mapRepoError(err)
	}

	for _, run := range runs {
		metrics.EmitRunTransition(s.metrics, metrics.RunMetric{
			Job:        run.JobName,
			Transition: metrics.TransitionEnqueued,
			Result:     metrics.ResultSuccess,
		})
	}
	s.logger.DebugContext(ctx, "run batch queued", "count", len(runs))
	return runs, nil
}

// prepare copies req and fills in the definition-derived fields: merged params,
// version and the dependency snapshot.
func (s *RunService) prepare(req *model.CreateRunRequest) (*model.CreateRunRequest, error) {
	if req == nil {
		return nil, apperrors.InvalidParameters("request", "request is required")
	}
	name := strings.TrimSpace(req.JobName)
	if name == "" {
		return nil, apperrors.InvalidParameters("job_name", "job name is required")
	}
	def, ok := s.registry.Definition(name)
	if !ok {
		return nil, apperrors.UnknownJob(name)
	}

	out := *req
	out.JobName = name
	if out.Trigger == "" {
		out.Trigger = model.TriggerManual
	}
	if !out.Trigger.Valid() {
		return nil, apperrors.InvalidParameters("trigger", fmt.Sprintf("unknown trigger %q", out.Trigger))
	}
	if len(out.Scope) > 0 && !json.Valid(out.Scope) {
		return nil, apperrors.InvalidParameters("scope", "scope must be valid JSON")
	}

	merged, err := job.MergeParams(def.DefaultParams, req.Params)
	if err != nil {
		return nil, apperrors.InvalidParameters("params", err.Error())
	}
	out.Params = merged
	out.Version = def.Version
	out.DependsOn = append([]string(nil), def.Dependencies...)
	return &out, nil
}

// Claim moves the oldest eligible queued run to running for the worker.
// model.ErrNoRunsAvailable is returned unchanged when nothing is eligible.
func (s *RunService) Claim(ctx context.Context, params model.ClaimParams) (*model.JobRun, error) {
	if strings.TrimSpace(params.WorkerID) == "" {
		return nil, apperrors.InvalidParameters("worker_id", "worker id is required")
	}

	run, err := s.repo.Claim(ctx, params)
	if errors.Is(err, model.ErrNoRunsAvailable) {
		return nil, model.ErrNoRunsAvailable
	}
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.DebugContext(ctx, "run claimed", "run_id", run.ID, "job", run.JobName, "worker_id", params.WorkerID)
	var delay int64
	if d := run.QueueDelayMs(); d != nil {
		delay = *d
	}
	if s.metrics != nil {
		s.metrics.Timing("run.queue_delay", msDuration(delay), map[string]string{"job": run.JobName})
	}
	metrics.EmitRunTransition(s.metrics, metrics.RunMetric{
		Job:        run.JobName,
		Transition: metrics.TransitionClaimed,
		Result:     metrics.ResultSuccess,
	})
	return run, nil
}

// Heartbeat refreshes the run's liveness and progress. False means the worker no longer owns a running run.
func (s *RunService) Heartbeat(ctx context.Context, hb model.RunHeartbeat) (bool, error) {
	updated, err := s.repo.Heartbeat(ctx, hb)
	if err != nil {
		return false, mapRepoError(err)
	}
	if !updated {
		s.logger.DebugContext(ctx, "run heartbeat ignored", "run_id", hb.RunID, "worker_id", hb.WorkerID)
	}
	return updated, nil
}

// Finish records the terminal outcome of a running run. A second call is a no-op returning false.
func (s *RunService) Finish(ctx context.Context, params model.FinishParams) (bool, error) {
	if err := params.Outcome.Validate(); err != nil {
		return false, apperrors.InvalidParameters("outcome", err.Error())
	}

	updated, err := s.repo.Finish(ctx, params)
	if err != nil {
		return false, mapRepoError(err)
	}
	if !updated {
		s.logger.DebugContext(ctx, "run finish ignored; run no longer running",
			"run_id", params.RunID,
			"status", params.Outcome.Status,
		)
		return false, nil
	}

	s.logger.InfoContext(ctx, "run finished", "run_id", params.RunID, "status", params.Outcome.Status)
	return true, nil
}

// RequestCancel cancels a queued run immediately or flags a running run.
// It returns NotFound for an unknown run and InvalidState for a finished one.
func (s *RunService) RequestCancel(
	ctx context.Context,
	runID int64,
	requestedBy string,
) (model.CancelResult, *model.JobRun, error) {
	if runID <= 0 {
		return "", nil, apperrors.InvalidParameters("run_id", "run id must be positive")
	}
	requestedBy = strings.TrimSpace(requestedBy)
	if requestedBy == "" {
		return "", nil, apperrors.InvalidParameters("requested_by", "requester is required")
	}

	result, run, err := s.repo.RequestCancel(ctx, model.CancelParams{RunID: runID, RequestedBy: requestedBy})
	if err != nil {
		if run != nil && run.Status.IsTerminal() {
			return "", run, apperrors.InvalidStatef("job run %d already %s", runID, run.Status)
		}
		return "", nil, mapRepoError(err)
	}

	s.logger.InfoContext(ctx, "run cancel requested",
		"run_id", runID,
		"result", result,
		"requested_by", requestedBy,
	)
	if result == model.CancelResultCancelled {
		metrics.EmitRunTransition(s.metrics, metrics.RunMetric{
			Job:        run.JobName,
			Transition: metrics.TransitionCancelled,
			Result:     metrics.ResultSuccess,
		})
	}
	return result, run, nil
}

// IsCancelRequested reports whether cancellation was recorded for the run.
func (s *RunService) IsCancelRequested(ctx context.Context, runID int64) (bool, error) {
	requested, err := s.repo.IsCancelRequested(ctx, runID)
	if err != nil {
		return false, mapRepoError(err)
	}
	return requested, nil
}

// GetByID returns a run or NotFound.
func (s *RunService) GetByID(ctx context.Context, id int64) (*model.JobRun, error) {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return run, nil
}

// List returns runs filtered by name and status.
func (s *RunService) List(ctx context.Context, opts model.RunListOptions) ([]*model.JobRun, error) {
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, apperrors.InvalidParameters("status", fmt.Sprintf("unknown status %q", *opts.Status))
	}
	if opts.Offset < 0 {
		return nil, apperrors.InvalidParameters("offset", "offset must not be negative")
	}
	opts.Limit = clampLimit(opts.Limit, defaultRunListLimit, maxRunListLimit)

	runs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return runs, nil
}

// ListActive returns queued and running runs.
func (s *RunService) ListActive(ctx context.Context, limit int) ([]*model.JobRun, error) {
	runs, err := s.repo.ListActive(ctx, clampLimit(limit, defaultRunListLimit, maxRunListLimit))
	if err != nil {
		return nil, mapRepoError(err)
	}
	return runs, nil
}

// Stats returns counts per status and the number of runs queued in the last 24h.
func (s *RunService) Stats(ctx context.Context) (*model.RunStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return stats, nil
}

// HasActiveRun reports whether jobName has a queued or running run.
func (s *RunService) HasActiveRun(ctx context.Context, jobName string) (bool, error) {
	active, err := s.repo.HasActiveRun(ctx, jobName)
	if err != nil {
		return false, mapRepoError(err)
	}
	return active, nil
}

// WaitForNotification blocks until a notification arrives on channel or ctx ends.
func (s *RunService) WaitForNotification(ctx context.Context, channel string) error {
	return s.repo.WaitForNotification(ctx, channel)
}

func clampLimit(limit, def, maxLimit int) int {
	switch {
	case limit <= 0:
		return def
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
