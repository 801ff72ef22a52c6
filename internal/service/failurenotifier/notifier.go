// Package failurenotifier announces failed runs on every configured sink.
package failurenotifier

import (
	"context"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/target/mmk-jobcoord/internal/observability/notify"
)

// SinkRegistration names a sink for log output.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures a Service. Registrations with a nil Sink are dropped.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// SkipJobs holds doublestar patterns matched against the job name.
	SkipJobs []string
}

// Service fans a failure out to its sinks. A nil *Service is a valid no-op.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	quiet  []string
}

// NewService builds a Service. Invalid skip patterns are logged and ignored.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{logger: logger.With("component", "failure_notifier")}

	for _, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		if reg.Name == "" {
			reg.Name = "sink"
		}
		svc.sinks = append(svc.sinks, reg)
	}
	for _, pattern := range opts.SkipJobs {
		if !doublestar.ValidatePattern(pattern) {
			svc.logger.Warn("ignoring invalid skip pattern", "pattern", pattern)
			continue
		}
		svc.quiet = append(svc.quiet, pattern)
	}
	return svc
}

// Enabled reports whether at least one sink is registered.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}

// NotifyRunFailure sends payload to all sinks in parallel and returns once
// each has answered. Sink errors are logged only; severity defaults to critical.
func (s *Service) NotifyRunFailure(ctx context.Context, payload notify.RunFailurePayload) {
	if !s.Enabled() {
		return
	}
	if s.silenced(payload.JobName) {
		s.logger.DebugContext(ctx, "failure notification suppressed", "run_id", payload.RunID, "job", payload.JobName)
		return
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	// Plain errgroup.Group: one sink failing must not cancel the rest.
	var g errgroup.Group
	for _, reg := range s.sinks {
		g.Go(func() error {
			if err := reg.Sink.SendRunFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notification not delivered",
					"sink", reg.Name,
					"run_id", payload.RunID,
					"job", payload.JobName,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) silenced(job string) bool {
	for _, pattern := range s.quiet {
		if ok, _ := doublestar.Match(pattern, job); ok {
			return true
		}
	}
	return false
}
