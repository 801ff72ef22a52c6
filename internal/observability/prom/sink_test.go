package prom

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-jobcoord/internal/observability/metrics"
)

func TestMetricName(t *testing.T) {
	assert.Equal(t, "run_transition", metricName("run.transition"))
	assert.Equal(t, "reaper_sweep_duration", metricName(" reaper.sweep-duration "))
	assert.Equal(t, "error_class", metricName("error_class"))
}

func TestSink_CounterGaugeHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewSink(SinkOptions{Namespace: "jobcoord", Registerer: reg})

	tags := map[string]string{"job": "noop", "result": "success"}
	sink.Count("run.transition", 2, tags)
	sink.Count("run.transition", 1, tags)
	// Unknown labels are dropped, missing ones are empty.
	sink.Count("run.transition", 1, map[string]string{"job": "noop", "extra": "x"})
	sink.Gauge("worker.active", 3, map[string]string{"pool": "job_worker"})
	sink.Timing("run.duration", 1500*time.Millisecond, tags)

	counter := sink.counters["run_transition_total"].v
	assert.InDelta(t, 3, testutil.ToFloat64(counter.WithLabelValues("noop", "success")), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(counter.WithLabelValues("noop", "")), 0.0001)
	assert.InDelta(t, 3, testutil.ToFloat64(sink.gauges["worker_active"].v.WithLabelValues("job_worker")), 0.0001)

	count, err := testutil.GatherAndCount(reg, "jobcoord_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSink_NegativeCountIgnored(t *testing.T) {
	sink := NewSink(SinkOptions{})
	sink.Count("run.transition", -1, nil)
	assert.Empty(t, sink.counters)
}

func TestSink_DeclaredLabelsRecordLaterTags(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewSink(SinkOptions{Registerer: reg, Labels: metrics.KnownLabels()})

	sink.Count("run.transition", 1, map[string]string{"job": "noop", "transition": "complete", "result": "success"})
	sink.Count("run.transition", 1, map[string]string{
		"job": "noop", "transition": "fail", "result": "error", "error_class": "timeout",
	})

	counter := sink.counters["run_transition_total"]
	assert.Equal(t, []string{"error_class", "job", "result", "transition"}, counter.labels)
	assert.InDelta(t, 1, testutil.ToFloat64(counter.v.WithLabelValues("timeout", "noop", "error", "fail")), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(counter.v.WithLabelValues("", "noop", "success", "complete")), 0.0001)
}

func TestSink_UndeclaredMetricUsesFirstTags(t *testing.T) {
	sink := NewSink(SinkOptions{Labels: map[string][]string{"run.transition": {"job"}}})
	sink.Gauge("worker.active", 2, map[string]string{"pool": "job_worker"})
	assert.Equal(t, []string{"pool"}, sink.gauges["worker_active"].labels)
}

func TestServer_MetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewSink(SinkOptions{Namespace: "jobcoord", Registerer: reg})
	sink.Count("reaper.reaped", 4, nil)

	var healthy atomic.Bool
	healthy.Store(true)
	srv := NewServer(ServerOptions{
		Gatherer: reg,
		Health: map[string]HealthFunc{
			"postgres": func(context.Context) error {
				if healthy.Load() {
					return nil
				}
				return errors.New("connection refused")
			},
		},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := get(t, ts.URL+"/metrics", http.StatusOK)
	assert.Contains(t, body, "jobcoord_reaper_reaped_total 4")

	assert.Equal(t, "ok\n", get(t, ts.URL+"/healthz", http.StatusOK))

	healthy.Store(false)
	body = get(t, ts.URL+"/healthz", http.StatusServiceUnavailable)
	assert.True(t, strings.HasPrefix(body, "postgres: connection refused"))
}

func get(t *testing.T, url string, wantStatus int) string {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
