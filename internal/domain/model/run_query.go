package model

import "time"

// RunListOptions groups parameters for listing runs with optional filters.
type RunListOptions struct {
	JobName   *string    // Optional filter by job name
	Status    *RunStatus // Optional filter by status
	SortBy    string     // Sort field: "queued_at", "started_at", "finished_at", "status", "job_name", "id" (default: "queued_at")
	SortOrder string     // Sort order: "asc", "desc" (default: "desc")
	Limit     int        // Pagination limit
	Offset    int        // Pagination offset
}

// RunStats summarises run counts for dashboards.
type RunStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
	Succeeded int `json:"succeeded"`
	Last24h   int `json:"last_24h"`
}

// Total is the number of runs across all statuses.
func (s RunStats) Total() int {
	return s.Queued + s.Running + s.Cancelled + s.Failed + s.Succeeded
}

// ClaimParams groups parameters for claiming the next eligible run.
type ClaimParams struct {
	WorkerID string
	// JobNames restricts the claim to runs this worker can execute; empty means any.
	JobNames []string
	// EnforceDependencies makes runs ineligible until each declared dependency has succeeded.
	EnforceDependencies bool
}

// RunHeartbeat groups parameters for a run heartbeat.
type RunHeartbeat struct {
	RunID    int64
	WorkerID string
	Progress *Progress
}

// FinishParams groups parameters for a terminal transition from running.
type FinishParams struct {
	RunID int64
	// WorkerID guards the update to the owning worker when set.
	WorkerID string
	Outcome  Outcome
}

// CancelParams groups parameters for a cancellation request.
type CancelParams struct {
	RunID       int64
	RequestedBy string
}

// SweepParams groups parameters for the stalled-run sweep.
type SweepParams struct {
	Threshold time.Duration
	// BatchSize caps rows per statement; zero means no cap.
	BatchSize int
}
