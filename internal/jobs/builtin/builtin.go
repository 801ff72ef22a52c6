// Package builtin provides handlers shipped with every deployment, used for smoke
// tests and for checking that a worker pool is healthy.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/domain/model"
)

// Group is the job group the built-in handlers belong to.
const Group = "builtin"

const (
	maxSleep      = time.Hour
	maxSleepSteps = 1000
)

// Register adds every built-in handler to reg.
func Register(reg *job.Registry) error {
	for _, h := range []job.Handler{Noop(), Sleep()} {
		if err := reg.Register(h); err != nil {
			return fmt.Errorf("register builtin %s: %w", h.Definition().Name, err)
		}
	}
	return nil
}

// Noop succeeds immediately.
func Noop() job.Handler {
	return job.HandlerFunc{
		Def: job.Definition{
			Name:        "noop",
			Description: "Succeeds immediately.",
			Group:       Group,
			Version:     "1",
		},
		Fn: func(ctx context.Context, ec job.ExecContext, _ json.RawMessage) (job.Result, error) {
			ec.Log(ctx, model.LogLevelInfo, "noop", "nothing to do", nil)
			return job.Result{Summary: map[string]any{"ok": true}}, nil
		},
	}
}

// SleepParams configures the sleep handler.
type SleepParams struct {
	// Duration is the total time slept, as a Go duration string.
	Duration string `json:"duration"`
	// Steps splits the sleep; progress is reported and cancellation checked between steps.
	Steps int `json:"steps"`
}

func (p SleepParams) parse() (time.Duration, int, error) {
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return 0, 0, fmt.Errorf("duration: %w", err)
	}
	if d < 0 || d > maxSleep {
		return 0, 0, fmt.Errorf("duration must be between 0 and %s", maxSleep)
	}
	if p.Steps < 1 || p.Steps > maxSleepSteps {
		return 0, 0, fmt.Errorf("steps must be between 1 and %d", maxSleepSteps)
	}
	return d, p.Steps, nil
}

// Sleep waits for the configured duration in steps, reporting progress and
// stopping early when cancellation is requested.
func Sleep() job.Handler {
	return job.HandlerFunc{
		Def: job.Definition{
			Name:          "sleep",
			Description:   "Sleeps in steps, reporting progress and honouring cancellation.",
			Group:         Group,
			Version:       "1",
			DefaultParams: map[string]any{"duration": "1s", "steps": float64(1)},
		},
		Fn: runSleep,
	}
}

func runSleep(ctx context.Context, ec job.ExecContext, raw json.RawMessage) (job.Result, error) {
	var p SleepParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return job.Result{}, fmt.Errorf("decode sleep params: %w", err)
		}
	}
	total, steps, err := p.parse()
	if err != nil {
		return job.Result{}, fmt.Errorf("invalid sleep params: %w", err)
	}

	step := total / time.Duration(steps)
	stage := "sleep"
	totalSteps := int64(steps)
	start := time.Now()

	timer := time.NewTimer(step)
	defer timer.Stop()

	for i := 1; i <= steps; i++ {
		if ec.CancelRequested(ctx) {
			ec.Log(ctx, model.LogLevelWarn, stage, "cancellation observed", map[string]any{"completed_steps": i - 1})
			return job.Result{}, job.ErrCancelled
		}

		timer.Reset(step)
		select {
		case <-ctx.Done():
			return job.Result{}, ctx.Err()
		case <-timer.C:
		}

		current := int64(i)
		percent := float64(i) * 100 / float64(steps)
		msg := fmt.Sprintf("step %d of %d", i, steps)
		if err := ec.ReportProgress(ctx, model.Progress{
			Stage:   &stage,
			Current: &current,
			Total:   &totalSteps,
			Percent: &percent,
			Message: &msg,
		}); err != nil {
			ec.Log(ctx, model.LogLevelWarn, stage, "progress update failed", map[string]any{"error": err.Error()})
		}
	}

	return job.Result{Summary: map[string]any{
		"steps":    steps,
		"slept_ms": time.Since(start).Milliseconds(),
	}}, nil
}
