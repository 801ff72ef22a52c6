package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ScheduledJob enqueues a job at a fixed interval.
type ScheduledJob struct {
	ID           string          `json:"id"`
	JobName      string          `json:"job_name"`
	Interval     time.Duration   `json:"interval"`
	Params       json.RawMessage `json:"params,omitempty"`
	Enabled      bool            `json:"enabled"`
	LastQueuedAt *time.Time      `json:"last_queued_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// UpsertScheduleRequest creates or replaces the schedule for a job.
type UpsertScheduleRequest struct {
	JobName  string
	Interval time.Duration
	Params   json.RawMessage
	Enabled  bool
}

// Validate validates the UpsertScheduleRequest fields.
func (r *UpsertScheduleRequest) Validate() error {
	if strings.TrimSpace(r.JobName) == "" {
		return errors.New("job name is required")
	}
	if r.Interval < time.Second {
		return errors.New("interval must be at least 1s")
	}
	if !IsJSONObject(r.Params) {
		return errors.New("params must be a JSON object")
	}
	return nil
}

// MarkScheduleQueuedParams groups parameters for recording a scheduler fire.
type MarkScheduleQueuedParams struct {
	ID  string
	Now time.Time
	// Prev is the last_queued_at value the caller observed; the update only applies
	// when it still matches, so two schedulers cannot both fire the same slot.
	Prev *time.Time
}

// Due reports whether the schedule should fire at now.
func (s *ScheduledJob) Due(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	return s.LastQueuedAt == nil || !s.LastQueuedAt.Add(s.Interval).After(now)
}
