package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	apperrors "github.com/target/mmk-jobcoord/internal/errors"
)

// EnqueueRequest asks for a single job run.
type EnqueueRequest struct {
	JobName     string
	Params      json.RawMessage
	TriggeredBy string
	// Trigger defaults to manual.
	Trigger model.TriggerKind
	Scope   json.RawMessage
}

// EnqueueServiceOptions groups dependencies for EnqueueService.
type EnqueueServiceOptions struct {
	Runs   *RunService  // Required: run state machine
	Logger *slog.Logger // Optional: structured logger
	// NewBatchID overrides batch id generation; tests use it for stable ids.
	NewBatchID func() string
}

// EnqueueService turns "run X", "run group G" and "run everything" into queued runs
// ordered so that each job is recorded after the dependencies it declares.
type EnqueueService struct {
	runs       *RunService
	registry   *job.Registry
	logger     *slog.Logger
	newBatchID func() string
}

// NewEnqueueService constructs a new EnqueueService.
func NewEnqueueService(opts EnqueueServiceOptions) (*EnqueueService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newBatchID := opts.NewBatchID
	if newBatchID == nil {
		newBatchID = uuid.NewString
	}
	return &EnqueueService{
		runs:       opts.Runs,
		registry:   opts.Runs.Registry(),
		logger:     logger.With("component", "enqueue_service"),
		newBatchID: newBatchID,
	}, nil
}

// EnqueueOne queues a single run of a registered job and returns its id.
func (s *EnqueueService) EnqueueOne(ctx context.Context, req EnqueueRequest) (int64, error) {
	run, err := s.runs.Create(ctx, &model.CreateRunRequest{
		JobName:     req.JobName,
		Trigger:     req.Trigger,
		Scope:       req.Scope,
		Params:      req.Params,
		TriggeredBy: req.TriggeredBy,
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "job enqueued", "job", run.JobName, "run_id", run.ID, "triggered_by", req.TriggeredBy)
	return run.ID, nil
}

// EnqueueAll queues one run of every registered job in dependency order.
// A dependency cycle fails the whole call before anything is written.
func (s *EnqueueService) EnqueueAll(ctx context.Context, triggeredBy string) ([]int64, error) {
	defs := s.registry.Definitions()
	if len(defs) == 0 {
		return nil, apperrors.InvalidState("no jobs are registered")
	}
	return s.enqueueBatch(ctx, defs, triggeredBy, "all")
}

// EnqueueGroup queues one run of every job in group, in dependency order.
// Dependencies on jobs outside the group do not affect ordering.
func (s *EnqueueService) EnqueueGroup(ctx context.Context, group, triggeredBy string) ([]int64, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return nil, apperrors.InvalidParameters("group", "group is required")
	}
	defs := s.registry.Group(group)
	if len(defs) == 0 {
		return nil, apperrors.UnknownGroup(group)
	}
	return s.enqueueBatch(ctx, defs, triggeredBy, group)
}

func (s *EnqueueService) enqueueBatch(
	ctx context.Context,
	defs []job.Definition,
	triggeredBy, label string,
) ([]int64, error) {
	ordered, err := job.Order(defs)
	if err != nil {
		var cycle *job.CycleError
		if errors.As(err, &cycle) {
			return nil, apperrors.CyclicDependency(cycle.Jobs)
		}
		return nil, fmt.Errorf("order jobs: %w", err)
	}

	batchID := s.newBatchID()
	reqs := make([]*model.CreateRunRequest, len(ordered))
	for i, def := range ordered {
		reqs[i] = &model.CreateRunRequest{
			JobName:     def.Name,
			Trigger:     model.TriggerManual,
			TriggeredBy: triggeredBy,
			BatchID:     &batchID,
		}
	}

	runs, err := s.runs.CreateBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(runs))
	for i, run := range runs {
		ids[i] = run.ID
	}
	s.logger.InfoContext(ctx, "job batch enqueued",
		"batch", label,
		"batch_id", batchID,
		"count", len(ids),
		"triggered_by", triggeredBy,
	)
	return ids, nil
}
