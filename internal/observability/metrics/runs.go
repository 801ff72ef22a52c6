// Package metrics holds the metric names and tag conventions shared by services and runners.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/mmk-jobcoord/internal/observability/errors"
	"github.com/target/mmk-jobcoord/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Run transition names.
const (
	TransitionEnqueued  = "enqueued"
	TransitionClaimed   = "claimed"
	TransitionSucceeded = "succeeded"
	TransitionFailed    = "failed"
	TransitionCancelled = "cancelled"
	TransitionReaped    = "reaped"
)

// RunMetric captures one run lifecycle event.
type RunMetric struct {
	Job        string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitRunTransition emits run.transition and, when a duration is known, run.duration.
func EmitRunTransition(sink statsd.Sink, in RunMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		TagJob:        in.Job,
		TagTransition: in.Transition,
		TagResult:     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags[TagErrorClass] = class
		}
	}

	sink.Count("run.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("run.duration", in.Duration, CloneTags(tags))
	}
}

// ResultFor maps a count and error to a result tag.
func ResultFor(count int, err error) string {
	switch {
	case err != nil:
		return ResultError
	case count == 0:
		return ResultNoop
	default:
		return ResultSuccess
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

// Multi fans every metric out to each sink.
type Multi []statsd.Sink

// Count implements statsd.Sink.
func (m Multi) Count(name string, value int64, tags map[string]string) {
	for _, s := range m {
		s.Count(name, value, CloneTags(tags))
	}
}

// Gauge implements statsd.Sink.
func (m Multi) Gauge(name string, value float64, tags map[string]string) {
	for _, s := range m {
		s.Gauge(name, value, CloneTags(tags))
	}
}

// Timing implements statsd.Sink.
func (m Multi) Timing(name string, value time.Duration, tags map[string]string) {
	for _, s := range m {
		s.Timing(name, value, CloneTags(tags))
	}
}

// Combine returns a single sink for the non-nil sinks given, or statsd.Nop when there are none.
func Combine(sinks ...statsd.Sink) statsd.Sink {
	var out Multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return statsd.Nop{}
	case 1:
		return out[0]
	default:
		return out
	}
}
