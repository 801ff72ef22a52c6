package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrRunNotFound is returned when no run has the requested id.
	ErrRunNotFound = errors.New("job run not found")
	// ErrRunTerminal is returned when an operation needs an active run but the run already finished.
	ErrRunTerminal = errors.New("job run already finished")

	// ErrWorkerNotFound is returned when a worker instance id is unknown.
	ErrWorkerNotFound = errors.New("worker instance not found")
	// ErrLeaseNotFound is returned when a pool has no lease row.
	ErrLeaseNotFound = errors.New("worker lease not found")

	// ErrScheduleNotFound is returned when no schedule exists for a job.
	ErrScheduleNotFound = errors.New("scheduled job not found")
)
