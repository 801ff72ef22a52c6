package model

import (
	"errors"
	"strings"
	"time"
)

// WorkerStatus represents whether a worker instance is live.
type WorkerStatus string

const (
	// WorkerStatusRunning marks a registered, not yet deregistered worker.
	WorkerStatusRunning WorkerStatus = "running"
	// WorkerStatusStopped marks a deregistered or reaped worker.
	WorkerStatusStopped WorkerStatus = "stopped"

	// DefaultWorkerPool is the pool used by the job worker.
	DefaultWorkerPool = "job_worker"
	// DefaultLivenessWindow is how recent a heartbeat must be for a worker to count as active.
	DefaultLivenessWindow = 30 * time.Second
)

// WorkerInstance is one live or historical worker process.
type WorkerInstance struct {
	ID              string       `json:"id"                   db:"id"`
	Pool            string       `json:"pool"                 db:"pool"`
	Hostname        string       `json:"hostname"             db:"hostname"`
	PID             int          `json:"pid"                  db:"pid"`
	Status          WorkerStatus `json:"status"               db:"status"`
	StartedAt       time.Time    `json:"started_at"           db:"started_at"`
	StoppedAt       *time.Time   `json:"stopped_at,omitempty" db:"stopped_at"`
	LastHeartbeatAt time.Time    `json:"last_heartbeat_at"    db:"last_heartbeat_at"`
	JobsProcessed   int64        `json:"jobs_processed"       db:"jobs_processed"`
}

// IsActive reports whether the instance is running with a heartbeat inside window.
func (w *WorkerInstance) IsActive(now time.Time, window time.Duration) bool {
	return w.Status == WorkerStatusRunning && w.LastHeartbeatAt.After(now.Add(-window))
}

// RegisterWorkerRequest represents a request to register a worker instance.
type RegisterWorkerRequest struct {
	Pool     string `json:"pool"`
	Hostname string `json:"hostname"`
	PID      int    `json:"pid"`
}

// Validate validates the RegisterWorkerRequest fields.
func (r *RegisterWorkerRequest) Validate() error {
	if strings.TrimSpace(r.Pool) == "" {
		return errors.New("pool is required")
	}
	if strings.TrimSpace(r.Hostname) == "" {
		return errors.New("hostname is required")
	}
	if r.PID <= 0 {
		return errors.New("pid must be positive")
	}
	return nil
}

// WorkerLease is the single row that grants a worker exclusive ownership of a pool.
type WorkerLease struct {
	Pool            string     `json:"pool"                        db:"pool"`
	WorkerID        string     `json:"worker_id"                   db:"worker_id"`
	AcquiredAt      time.Time  `json:"acquired_at"                 db:"acquired_at"`
	ExpiresAt       time.Time  `json:"expires_at"                  db:"expires_at"`
	StopRequestedAt *time.Time `json:"stop_requested_at,omitempty" db:"stop_requested_at"`
	StopRequestedBy *string    `json:"stop_requested_by,omitempty" db:"stop_requested_by"`
}

// Live reports whether the lease has not yet expired at now.
func (l *WorkerLease) Live(now time.Time) bool {
	return l != nil && l.ExpiresAt.After(now)
}

// LeaseRequest groups parameters for acquiring or renewing a pool lease.
type LeaseRequest struct {
	Pool     string
	WorkerID string
	TTL      time.Duration
}

// LeaseRenewal reports the state of a lease after a renewal attempt.
type LeaseRenewal struct {
	// Held is false when the lease expired and was taken by another worker.
	Held bool
	// StopRequested is true when an operator asked the holder to stop.
	StopRequested bool
}

// WorkerListOptions groups parameters for listing worker instances.
type WorkerListOptions struct {
	Pool  string
	Limit int
}

// WorkerPoolStatus is the observability snapshot of a pool.
type WorkerPoolStatus struct {
	Pool         string           `json:"pool"`
	LocalRunning bool             `json:"local_running"`
	ActiveCount  int              `json:"active_count"`
	Lease        *WorkerLease     `json:"lease,omitempty"`
	Instances    []WorkerInstance `json:"instances"`
}
