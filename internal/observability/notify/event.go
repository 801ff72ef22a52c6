// Package notify defines the failed-run notification payload and the webhook
// delivery shared by the Slack and PagerDuty sinks.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
)

// Failure sources.
const (
	SourceHandler = "handler"
	SourceReaper  = "reaper"
)

// RunFailurePayload is what every sink receives when a run ends failed.
type RunFailurePayload struct {
	RunID      int64
	JobName    string
	Trigger    string
	WorkerID   string
	Source     string
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming failed-run notifications.
type Sink interface {
	SendRunFailure(ctx context.Context, payload RunFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, payload RunFailurePayload) error

// SendRunFailure implements the Sink interface.
func (f SinkFunc) SendRunFailure(ctx context.Context, payload RunFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
