// Package model defines the core data types shared by the job coordination layer.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunStatus represents the lifecycle state of a job run.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RunStatus string

// TriggerKind records what caused a run to be enqueued.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TriggerKind string

const (
	// RunStatusQueued indicates a run is waiting to be claimed by a worker.
	RunStatusQueued RunStatus = "queued"
	// RunStatusRunning indicates a worker has claimed the run.
	RunStatusRunning RunStatus = "running"
	// RunStatusCancelled indicates the run was cancelled before or during execution.
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusFailed indicates the run ended with an error or was reaped.
	RunStatusFailed RunStatus = "failed"
	// RunStatusSucceeded indicates the run completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// TriggerManual is an operator-initiated run.
	TriggerManual TriggerKind = "manual"
	// TriggerScheduled is a run enqueued by the scheduler.
	TriggerScheduled TriggerKind = "scheduled"
	// TriggerSystem is a run enqueued by the system itself.
	TriggerSystem TriggerKind = "system"
)

// StalledRunError is the error recorded on runs failed by the reaper.
const StalledRunError = "stalled: worker not running or crashed"

// ErrNoRunsAvailable is returned when no queued run is eligible for claiming.
var ErrNoRunsAvailable = errors.New("no runs available")

// AllRunStatuses lists every status in lifecycle order.
func AllRunStatuses() []RunStatus {
	return []RunStatus{RunStatusQueued, RunStatusRunning, RunStatusCancelled, RunStatusFailed, RunStatusSucceeded}
}

// Valid returns true if the RunStatus is known.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusCancelled, RunStatusFailed, RunStatusSucceeded:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCancelled || s == RunStatusFailed || s == RunStatusSucceeded
}

// IsActive reports whether the run is queued or running.
func (s RunStatus) IsActive() bool {
	return s == RunStatusQueued || s == RunStatusRunning
}

// CanTransitionTo reports whether next is a legal edge from s.
// queued may move to running or cancelled; running may move to any terminal state.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunStatusQueued:
		return next == RunStatusRunning || next == RunStatusCancelled
	case RunStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses can be parsed from flags and env.
func (s *RunStatus) UnmarshalText(text []byte) error {
	v := RunStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid RunStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Valid returns true if the TriggerKind is known.
func (t TriggerKind) Valid() bool {
	return t == TriggerManual || t == TriggerScheduled || t == TriggerSystem
}

// UnmarshalText implements encoding.TextUnmarshaler for TriggerKind.
func (t *TriggerKind) UnmarshalText(text []byte) error {
	v := TriggerKind(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid TriggerKind: %q", string(text))
	}
	*t = v
	return nil
}

// Progress is the advisory progress snapshot written by the owning worker.
// Nil fields are left unchanged on update.
type Progress struct {
	Stage             *string  `json:"current_stage,omitempty"`
	Current           *int64   `json:"progress_current,omitempty"`
	Total             *int64   `json:"progress_total,omitempty"`
	Percent           *float64 `json:"progress_percent,omitempty"`
	Message           *string  `json:"progress_message,omitempty"`
	EntitiesProcessed *int64   `json:"entities_processed,omitempty"`
	EntitiesTotal     *int64   `json:"entities_total,omitempty"`
}

// IsZero reports whether the snapshot carries no fields.
func (p *Progress) IsZero() bool {
	return p == nil || (p.Stage == nil && p.Current == nil && p.Total == nil && p.Percent == nil &&
		p.Message == nil && p.EntitiesProcessed == nil && p.EntitiesTotal == nil)
}

// JobRun is one attempt to execute a named job.
type JobRun struct {
	ID                int64           `json:"id"                            db:"id"`
	JobName           string          `json:"job_name"                      db:"job_name"`
	Trigger           TriggerKind     `json:"trigger"                       db:"trigger_kind"`
	Scope             json.RawMessage `json:"scope,omitempty"               db:"scope"`
	Version           string          `json:"version,omitempty"             db:"version"`
	Status            RunStatus       `json:"status"                        db:"status"`
	QueuedAt          time.Time       `json:"queued_at"                     db:"queued_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"          db:"started_at"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"         db:"finished_at"`
	DurationMs        *int64          `json:"duration_ms,omitempty"         db:"duration_ms"`
	LastHeartbeatAt   *time.Time      `json:"last_heartbeat_at,omitempty"   db:"last_heartbeat_at"`
	WorkerID          *string         `json:"worker_id,omitempty"           db:"worker_id"`
	CancelRequestedAt *time.Time      `json:"cancel_requested_at,omitempty" db:"cancel_requested_at"`
	CancelRequestedBy *string         `json:"cancel_requested_by,omitempty" db:"cancel_requested_by"`
	CurrentStage      *string         `json:"current_stage,omitempty"       db:"current_stage"`
	ProgressCurrent   *int64          `json:"progress_current,omitempty"    db:"progress_current"`
	ProgressTotal     *int64          `json:"progress_total,omitempty"      db:"progress_total"`
	ProgressPercent   *float64        `json:"progress_percent,omitempty"    db:"progress_percent"`
	ProgressMessage   *string         `json:"progress_message,omitempty"    db:"progress_message"`
	EntitiesProcessed *int64          `json:"entities_processed,omitempty"  db:"entities_processed"`
	EntitiesTotal     *int64          `json:"entities_total,omitempty"      db:"entities_total"`
	OutcomeSummary    json.RawMessage `json:"outcome_summary,omitempty"     db:"outcome_summary"`
	Error             *string         `json:"error,omitempty"               db:"error"`
	TriggeredBy       string          `json:"triggered_by"                  db:"triggered_by"`
	Metadata          json.RawMessage `json:"metadata,omitempty"            db:"metadata"`
	DependsOn         []string        `json:"depends_on,omitempty"          db:"depends_on"`
	BatchID           *string         `json:"batch_id,omitempty"            db:"batch_id"`
	UpdatedAt         time.Time       `json:"updated_at"                    db:"updated_at"`
}

// QueueDelayMs is the time the run spent queued: until it started, or until it
// was cancelled when it never started. Nil while still queued.
func (r *JobRun) QueueDelayMs() *int64 {
	var end *time.Time
	switch {
	case r.StartedAt != nil:
		end = r.StartedAt
	case r.FinishedAt != nil:
		end = r.FinishedAt
	default:
		return nil
	}
	ms := end.Sub(r.QueuedAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}

// CancelRequested reports whether a cancellation has been recorded.
func (r *JobRun) CancelRequested() bool {
	return r.CancelRequestedAt != nil
}

// MarshalJSON adds the derived queue_delay_ms field.
func (r JobRun) MarshalJSON() ([]byte, error) {
	type alias JobRun
	return json.Marshal(struct {
		alias
		QueueDelayMs *int64 `json:"queue_delay_ms,omitempty"`
	}{alias: alias(r), QueueDelayMs: r.QueueDelayMs()})
}

// CreateRunRequest represents a request to create a new run.
type CreateRunRequest struct {
	JobName     string          `json:"job_name"`
	Trigger     TriggerKind     `json:"trigger"`
	Scope       json.RawMessage `json:"scope,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
	TriggeredBy string          `json:"triggered_by"`

	// Filled from the job definition by the service layer.
	Version   string   `json:"-"`
	DependsOn []string `json:"-"`
	BatchID   *string  `json:"-"`
}

// Validate checks the caller-supplied fields. Job existence is checked by the registry.
func (r *CreateRunRequest) Validate() error {
	if strings.TrimSpace(r.JobName) == "" {
		return errors.New("job name is required")
	}
	if r.Trigger == "" {
		r.Trigger = TriggerManual
	}
	if !r.Trigger.Valid() {
		return fmt.Errorf("invalid trigger %q", r.Trigger)
	}
	if !IsJSONObject(r.Params) {
		return errors.New("params must be a JSON object")
	}
	return nil
}

// IsJSONObject reports whether raw is empty, null, or a JSON object.
func IsJSONObject(raw json.RawMessage) bool {
	_, err := DecodeJSONObject(raw)
	return err == nil
}

// DecodeJSONObject splits a JSON object into its members without decoding the
// values. Empty input and null yield an empty map.
func DecodeJSONObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]json.RawMessage{}, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return map[string]json.RawMessage{}, nil
	}
	return obj, nil
}

// Outcome is the terminal result reported by the owning worker.
type Outcome struct {
	Status  RunStatus       `json:"status"`
	Summary json.RawMessage `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Validate ensures the outcome names a terminal status.
func (o Outcome) Validate() error {
	if !o.Status.IsTerminal() {
		return fmt.Errorf("outcome status %q is not terminal", o.Status)
	}
	if len(o.Summary) > 0 && !json.Valid(o.Summary) {
		return errors.New("outcome summary must be valid JSON")
	}
	return nil
}

// CancelResult is the outcome of a cancellation request.
type CancelResult string

const (
	// CancelResultCancelled means the queued run was cancelled immediately.
	CancelResultCancelled CancelResult = "cancelled"
	// CancelResultRequested means the running run was flagged for cooperative cancellation.
	CancelResultRequested CancelResult = "cancellation_requested"
)
