package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-jobcoord/internal/observability/statsd"
)

type recordedMetric struct {
	kind  string
	name  string
	value float64
	tags  map[string]string
}

type recordingSink struct {
	metrics []recordedMetric
}

func (r *recordingSink) Count(name string, value int64, tags map[string]string) {
	r.metrics = append(r.metrics, recordedMetric{"count", name, float64(value), tags})
}

func (r *recordingSink) Gauge(name string, value float64, tags map[string]string) {
	r.metrics = append(r.metrics, recordedMetric{"gauge", name, value, tags})
}

func (r *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	r.metrics = append(r.metrics, recordedMetric{"timing", name, float64(value.Milliseconds()), tags})
}

func TestEmitRunTransition(t *testing.T) {
	sink := &recordingSink{}
	EmitRunTransition(sink, RunMetric{
		Job:        "reports.daily",
		Transition: TransitionFailed,
		Result:     ResultError,
		Duration:   250 * time.Millisecond,
		Err:        errors.New("boom"),
	})

	require.Len(t, sink.metrics, 2)
	assert.Equal(t, "run.transition", sink.metrics[0].name)
	assert.Equal(t, "reports.daily", sink.metrics[0].tags["job"])
	assert.Equal(t, "errors_errorstring", sink.metrics[0].tags["error_class"])
	assert.Equal(t, "run.duration", sink.metrics[1].name)
	assert.InDelta(t, 250, sink.metrics[1].value, 0.001)

	// The timing tags are a copy.
	sink.metrics[1].tags["job"] = "changed"
	assert.Equal(t, "reports.daily", sink.metrics[0].tags["job"])
}

func TestEmitRunTransition_NoDurationNoErrorClass(t *testing.T) {
	sink := &recordingSink{}
	EmitRunTransition(sink, RunMetric{Job: "noop", Transition: TransitionClaimed, Result: ResultSuccess})

	require.Len(t, sink.metrics, 1)
	_, ok := sink.metrics[0].tags["error_class"]
	assert.False(t, ok)

	EmitRunTransition(nil, RunMetric{Job: "noop"})
}

func TestResultFor(t *testing.T) {
	assert.Equal(t, ResultError, ResultFor(3, errors.New("x")))
	assert.Equal(t, ResultNoop, ResultFor(0, nil))
	assert.Equal(t, ResultSuccess, ResultFor(2, nil))
}

func TestCombine(t *testing.T) {
	_, isNop := Combine().(statsd.Nop)
	assert.True(t, isNop)

	one := &recordingSink{}
	assert.Same(t, one, Combine(nil, one))

	a, b := &recordingSink{}, &recordingSink{}
	sink := Combine(a, b)
	sink.Count("worker.heartbeat", 1, map[string]string{"pool": "job_worker"})
	sink.Gauge("worker.active", 2, nil)
	sink.Timing("reaper.sweep_duration", time.Second, nil)

	assert.Len(t, a.metrics, 3)
	assert.Len(t, b.metrics, 3)
}

func TestKnownLabels(t *testing.T) {
	labels := KnownLabels()
	assert.Equal(t, []string{TagJob, TagTransition, TagResult, TagErrorClass}, labels["run.transition"])
	assert.Equal(t, labels["run.transition"], labels["run.duration"])
	assert.Contains(t, labels["reaper.cleanup_operation"], TagErrorClass)
	assert.Equal(t, []string{TagPool}, labels["worker.lease_lost"])

	// Callers get a copy.
	labels["run.transition"][0] = "changed"
	assert.Equal(t, TagJob, KnownLabels()["run.transition"][0])
}
