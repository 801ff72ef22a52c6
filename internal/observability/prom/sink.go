// Package prom exposes the statsd.Sink metric stream as Prometheus collectors.
package prom

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/target/mmk-jobcoord/internal/observability/statsd"
)

// Sink lazily registers one vector per metric name. A vector's labels are the
// declared labels for that metric plus the tags of its first observation; later
// tags missing a label get "" and undeclared new tags are dropped.
type Sink struct {
	namespace string
	reg       prometheus.Registerer
	logger    *slog.Logger
	declared  map[string][]string

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
}

type vec[T any] struct {
	labels []string
	v      T
}

var _ statsd.Sink = (*Sink)(nil)

// SinkOptions configures NewSink.
type SinkOptions struct {
	Namespace  string
	Registerer prometheus.Registerer
	Logger     *slog.Logger
	// Labels declares the tag keys of each metric, keyed by its dotted name.
	Labels map[string][]string
}

// NewSink constructs a Sink. A nil Registerer uses a fresh registry.
func NewSink(opts SinkOptions) *Sink {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		namespace:  opts.Namespace,
		reg:        reg,
		logger:     logger.With("component", "prom_sink"),
		declared:   opts.Labels,
		counters:   make(map[string]*vec[*prometheus.CounterVec]),
		gauges:     make(map[string]*vec[*prometheus.GaugeVec]),
		histograms: make(map[string]*vec[*prometheus.HistogramVec]),
	}
}

// Count adds value to the <name>_total counter.
func (s *Sink) Count(name string, value int64, tags map[string]string) {
	if value < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	metric := metricName(name) + "_total"
	cv, ok := s.counters[metric]
	if !ok {
		labels := s.labelNames(name, tags)
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      metric,
			Help:      "Count of " + name + " events.",
		}, labels)
		if !s.register(metric, c) {
			return
		}
		cv = &vec[*prometheus.CounterVec]{labels: labels, v: c}
		s.counters[metric] = cv
	}
	cv.v.WithLabelValues(labelValues(cv.labels, tags)...).Add(float64(value))
}

// Gauge sets the <name> gauge.
func (s *Sink) Gauge(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metric := metricName(name)
	gv, ok := s.gauges[metric]
	if !ok {
		labels := s.labelNames(name, tags)
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: s.namespace,
			Name:      metric,
			Help:      "Last value of " + name + ".",
		}, labels)
		if !s.register(metric, g) {
			return
		}
		gv = &vec[*prometheus.GaugeVec]{labels: labels, v: g}
		s.gauges[metric] = gv
	}
	gv.v.WithLabelValues(labelValues(gv.labels, tags)...).Set(value)
}

// Timing observes value in seconds on the <name>_seconds histogram.
func (s *Sink) Timing(name string, value time.Duration, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metric := metricName(name) + "_seconds"
	hv, ok := s.histograms[metric]
	if !ok {
		labels := s.labelNames(name, tags)
		h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      metric,
			Help:      "Duration of " + name + " in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, labels)
		if !s.register(metric, h) {
			return
		}
		hv = &vec[*prometheus.HistogramVec]{labels: labels, v: h}
		s.histograms[metric] = hv
	}
	hv.v.WithLabelValues(labelValues(hv.labels, tags)...).Observe(value.Seconds())
}

func (s *Sink) register(metric string, c prometheus.Collector) bool {
	if err := s.reg.Register(c); err != nil {
		s.logger.Warn("prometheus register failed", "metric", metric, "error", err)
		return false
	}
	return true
}

// metricName converts a dotted StatsD name such as run.transition to run_transition.
func metricName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// labelNames merges the declared labels of name with the keys of tags, sorted.
func (s *Sink) labelNames(name string, tags map[string]string) []string {
	keys := slices.Collect(maps.Keys(tags))
	keys = append(keys, s.declared[name]...)

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if n := metricName(k); n != "" {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func labelValues(labels []string, tags map[string]string) []string {
	byLabel := make(map[string]string, len(tags))
	for k, v := range tags {
		byLabel[metricName(k)] = v
	}
	values := make([]string, len(labels))
	for i, l := range labels {
		values[i] = byLabel[l]
	}
	return values
}
