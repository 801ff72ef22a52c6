// Package job holds the typed job handler registry, dependency ordering and
// the store notification fan-out used by workers.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/target/mmk-jobcoord/internal/domain/model"
)

// ErrCancelled is returned by a handler that stopped after observing a cancellation request.
var ErrCancelled = errors.New("job cancelled")

// Definition is the static description of a job.
type Definition struct {
	Name          string         `json:"name"                     validate:"required,max=128,jobname"`
	Description   string         `json:"description,omitempty"    validate:"max=512"`
	Dependencies  []string       `json:"dependencies,omitempty"   validate:"dive,required,jobname"`
	Group         string         `json:"group,omitempty"          validate:"omitempty,max=64,jobname"`
	DefaultParams map[string]any `json:"default_params,omitempty"`
	Version       string         `json:"version,omitempty"        validate:"max=64"`
}

// InGroup reports whether the definition belongs to group.
func (d Definition) InGroup(group string) bool {
	return group != "" && d.Group == group
}

// Result is what a handler reports on success.
type Result struct {
	// Summary is stored as the run's outcome summary; it must marshal to JSON.
	Summary any
}

// ExecContext is the run-scoped surface a handler uses while executing.
type ExecContext interface {
	// RunID returns the id of the run being executed.
	RunID() int64
	// CancelRequested reports whether someone asked this run to stop.
	// Handlers should call it between units of work and return ErrCancelled when true.
	CancelRequested(ctx context.Context) bool
	// ReportProgress records an advisory progress snapshot on the run.
	ReportProgress(ctx context.Context, p model.Progress) error
	// Log appends a line to the run's job log.
	Log(ctx context.Context, level model.LogLevel, stage, message string, fields map[string]any)
}

// Handler is a registered unit of work.
type Handler interface {
	Definition() Definition
	Execute(ctx context.Context, ec ExecContext, params json.RawMessage) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	Def Definition
	Fn  func(ctx context.Context, ec ExecContext, params json.RawMessage) (Result, error)
}

// Definition implements Handler.
func (h HandlerFunc) Definition() Definition { return h.Def }

// Execute implements Handler.
func (h HandlerFunc) Execute(ctx context.Context, ec ExecContext, params json.RawMessage) (Result, error) {
	if h.Fn == nil {
		return Result{}, fmt.Errorf("job %s has no implementation", h.Def.Name)
	}
	return h.Fn(ctx, ec, params)
}

// MergeParams overlays caller params on the definition defaults; caller keys win.
// params must be empty, null, or a JSON object. Caller values are kept as
// raw JSON so numbers beyond float64 precision survive unchanged.
func MergeParams(defaults map[string]any, params json.RawMessage) (json.RawMessage, error) {
	overrides, err := model.DecodeJSONObject(params)
	if err != nil {
		return nil, errors.New("params must be a JSON object")
	}

	merged := make(map[string]json.RawMessage, len(defaults)+len(overrides))
	for key, value := range defaults {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode default %q: %w", key, err)
		}
		merged[key] = raw
	}
	maps.Copy(merged, overrides)

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return out, nil
}
