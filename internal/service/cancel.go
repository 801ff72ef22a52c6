package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/target/mmk-jobcoord/internal/core"
	"github.com/target/mmk-jobcoord/internal/domain/model"
)

// CancelCoordinatorOptions groups dependencies for CancelCoordinator.
type CancelCoordinatorOptions struct {
	Runs   *RunService       // Required: run state machine
	Signal core.CancelSignal // Optional: fast cancel side channel
	Logger *slog.Logger      // Optional: structured logger
}

// CancelCoordinator is the boundary for cancel requests.
//
// A queued run is cancelled synchronously. A running run is only flagged; its worker
// observes the flag at its next check and finishes the run as cancelled. When a
// signal is configured the flag is also published there so workers see it before
// their next database poll.
type CancelCoordinator struct {
	runs   *RunService
	signal core.CancelSignal
	logger *slog.Logger
}

// NewCancelCoordinator constructs a new CancelCoordinator.
func NewCancelCoordinator(opts CancelCoordinatorOptions) (*CancelCoordinator, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CancelCoordinator{
		runs:   opts.Runs,
		signal: opts.Signal,
		logger: logger.With("component", "cancel_coordinator"),
	}, nil
}

// Cancel returns model.CancelResultCancelled for a queued run and
// model.CancelResultRequested for a running one.
func (c *CancelCoordinator) Cancel(ctx context.Context, runID int64, requestedBy string) (model.CancelResult, error) {
	result, _, err := c.runs.RequestCancel(ctx, runID, requestedBy)
	if err != nil {
		return "", err
	}

	if result == model.CancelResultRequested && c.signal != nil {
		if sigErr := c.signal.Signal(ctx, runID); sigErr != nil {
			// The database flag is already set; the worker will see it on its next poll.
			c.logger.WarnContext(ctx, "publish cancel signal failed", "run_id", runID, "error", sigErr)
		}
	}
	return result, nil
}

// CancelRequested reports whether the run has been asked to stop, checking the
// fast signal first and the database second.
func (c *CancelCoordinator) CancelRequested(ctx context.Context, runID int64) (bool, error) {
	if c.signal != nil {
		signaled, err := c.signal.Signaled(ctx, runID)
		if err != nil {
			c.logger.DebugContext(ctx, "read cancel signal failed", "run_id", runID, "error", err)
		} else if signaled {
			return true, nil
		}
	}
	return c.runs.IsCancelRequested(ctx, runID)
}

// Clear drops the fast signal once the run is finished.
func (c *CancelCoordinator) Clear(ctx context.Context, runID int64) {
	if c.signal == nil {
		return
	}
	if err := c.signal.Clear(ctx, runID); err != nil {
		c.logger.DebugContext(ctx, "clear cancel signal failed", "run_id", runID, "error", err)
	}
}
