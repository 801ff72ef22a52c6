package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/mmk-jobcoord/internal/domain/job"
)

type metricEvent struct {
	kind  string
	name  string
	value float64
	tags  map[string]string
}

// metricRecorder is a statsd.Sink that keeps every emitted metric.
type metricRecorder struct {
	mu     sync.Mutex
	events []metricEvent
}

func (r *metricRecorder) Count(name string, value int64, tags map[string]string) {
	r.add(metricEvent{kind: "count", name: name, value: float64(value), tags: tags})
}

func (r *metricRecorder) Gauge(name string, value float64, tags map[string]string) {
	r.add(metricEvent{kind: "gauge", name: name, value: value, tags: tags})
}

func (r *metricRecorder) Timing(name string, value time.Duration, tags map[string]string) {
	r.add(metricEvent{kind: "timing", name: name, value: float64(value), tags: tags})
}

func (r *metricRecorder) add(e metricEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *metricRecorder) named(name string) []metricEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []metricEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func noopHandler(def job.Definition) job.Handler {
	return job.HandlerFunc{
		Def: def,
		Fn: func(context.Context, job.ExecContext, json.RawMessage) (job.Result, error) {
			return job.Result{}, nil
		},
	}
}

// newTestRegistry registers an etl chain (extract <- transform <- load) plus a standalone report job.
func newTestRegistry(t *testing.T) *job.Registry {
	t.Helper()
	reg := job.NewRegistry()
	reg.MustRegister(
		noopHandler(job.Definition{Name: "extract", Group: "etl", Version: "v1"}),
		noopHandler(job.Definition{Name: "transform", Group: "etl", Dependencies: []string{"extract"}}),
		noopHandler(job.Definition{Name: "load", Group: "etl", Dependencies: []string{"transform"}}),
		noopHandler(job.Definition{
			Name:          "report",
			Version:       "2024.1",
			DefaultParams: map[string]any{"region": "us", "limit": float64(10)},
		}),
	)
	require.NoError(t, reg.Validate())
	return reg
}
