package bootstrap

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/observability/metrics"
	"github.com/target/mmk-jobcoord/internal/observability/notify"
	"github.com/target/mmk-jobcoord/internal/observability/notify/pagerduty"
	"github.com/target/mmk-jobcoord/internal/observability/notify/slack"
	"github.com/target/mmk-jobcoord/internal/observability/prom"
	"github.com/target/mmk-jobcoord/internal/observability/statsd"
	"github.com/target/mmk-jobcoord/internal/service/failurenotifier"
)

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// MetricsSink fans out to every configured backend; never nil.
	MetricsSink statsd.Sink
	// Prometheus is the registry behind /metrics; nil when the listener is disabled.
	Prometheus      *prometheus.Registry
	MetricsConfig   config.MetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.NotificationsConfig
}

func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var sinks []statsd.Sink
	if cfg.Metrics.StatsdEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.StatsdPrefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			sinks = append(sinks, client)
		}
	}

	var registry *prometheus.Registry
	if cfg.Metrics.PrometheusEnabled() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sinks = append(sinks, prom.NewSink(prom.SinkOptions{
			Namespace:  cfg.Metrics.StatsdPrefix,
			Registerer: registry,
			Logger:     obsLogger,
			Labels:     metrics.KnownLabels(),
		}))
	}

	return ObservabilityContainer{
		MetricsSink:     metrics.Combine(sinks...),
		Prometheus:      registry,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.NotificationsConfig) *failurenotifier.Service {
	if logger == nil {
		logger = slog.Default()
	}

	type candidate struct {
		name    string
		enabled bool
		build   func() (notify.Sink, error)
	}
	candidates := []candidate{
		{name: "slack", enabled: cfg.Slack.Enabled(), build: func() (notify.Sink, error) {
			return slack.NewClient(slack.Config{
				WebhookURL: cfg.Slack.WebhookURL,
				Channel:    cfg.Slack.Channel,
				Username:   cfg.Slack.Username,
				Timeout:    cfg.Timeout,
				RetryLimit: cfg.RetryLimit,
			})
		}},
		{name: "pagerduty", enabled: cfg.PagerDuty.Enabled(), build: func() (notify.Sink, error) {
			return pagerduty.NewClient(pagerduty.Config{
				RoutingKey: cfg.PagerDuty.RoutingKey,
				Source:     cfg.PagerDuty.Source,
				Component:  cfg.PagerDuty.Component,
				Timeout:    cfg.Timeout,
				RetryLimit: cfg.RetryLimit,
			})
		}},
	}

	var sinks []failurenotifier.SinkRegistration
	for _, c := range candidates {
		if !c.enabled {
			continue
		}
		sink, err := c.build()
		if err != nil {
			logger.Error("failure notification sink disabled", "sink", c.name, "error", err)
			continue
		}
		sinks = append(sinks, failurenotifier.SinkRegistration{Name: c.name, Sink: sink})
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:   logger,
		Sinks:    sinks,
		SkipJobs: cfg.SkipJobs,
	})
}
