package config

import (
	"strings"
	"time"
)

const defaultObservabilityName = "jobcoord"

// ObservabilityConfig groups configuration that controls metrics and failure notification fan-out.
type ObservabilityConfig struct {
	Metrics       MetricsConfig       `envPrefix:"METRICS_"`
	Notifications NotificationsConfig `envPrefix:"NOTIFY_"`
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
}

// MetricsConfig controls emission of metrics to StatsD and exposure on a Prometheus listener.
type MetricsConfig struct {
	StatsdAddress     string `env:"STATSD_ADDRESS"     envDefault:""`
	StatsdPrefix      string `env:"STATSD_PREFIX"      envDefault:"jobcoord"`
	PrometheusAddress string `env:"PROMETHEUS_ADDRESS" envDefault:""`
}

// Sanitize normalises addresses.
func (c *MetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	c.PrometheusAddress = strings.TrimSpace(c.PrometheusAddress)
	c.StatsdPrefix = strings.Trim(strings.TrimSpace(c.StatsdPrefix), ".")
}

// StatsdEnabled reports whether a StatsD address is configured.
func (c *MetricsConfig) StatsdEnabled() bool { return c.StatsdAddress != "" }

// PrometheusEnabled reports whether the /metrics listener should start.
func (c *MetricsConfig) PrometheusEnabled() bool { return c.PrometheusAddress != "" }

// NotificationsConfig controls outbound notifications for failed runs.
// A sink is enabled by configuring its destination.
type NotificationsConfig struct {
	Timeout    time.Duration   `env:"TIMEOUT"     envDefault:"5s"`
	RetryLimit int             `env:"RETRY_LIMIT" envDefault:"3"`
	Slack      SlackConfig     `envPrefix:"SLACK_"`
	PagerDuty  PagerDutyConfig `envPrefix:"PAGERDUTY_"`
	// SkipJobs holds doublestar patterns of jobs whose failures stay quiet.
	SkipJobs []string `env:"SKIP_JOBS" envSeparator:","`
}

// Sanitize normalises notification configuration values.
func (c *NotificationsConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	c.Slack.sanitize()
	c.PagerDuty.sanitize()
}

// Enabled reports whether any sink is configured.
func (c *NotificationsConfig) Enabled() bool {
	return c.Slack.Enabled() || c.PagerDuty.Enabled()
}

// SlackConfig controls Slack webhook fan-out.
type SlackConfig struct {
	WebhookURL string `env:"WEBHOOK_URL"`
	Channel    string `env:"CHANNEL"`
	Username   string `env:"USERNAME"    envDefault:"jobcoord"`
}

func (c *SlackConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.Channel = strings.TrimSpace(c.Channel)
	if c.Username = strings.TrimSpace(c.Username); c.Username == "" {
		c.Username = defaultObservabilityName
	}
}

// Enabled reports whether a webhook is configured.
func (c *SlackConfig) Enabled() bool { return c.WebhookURL != "" }

// PagerDutyConfig controls PagerDuty Events API v2 fan-out.
type PagerDutyConfig struct {
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"jobcoord"`
	Component  string `env:"COMPONENT"   envDefault:"jobcoord"`
}

func (c *PagerDutyConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	if c.Source = strings.TrimSpace(c.Source); c.Source == "" {
		c.Source = defaultObservabilityName
	}
	if c.Component = strings.TrimSpace(c.Component); c.Component == "" {
		c.Component = defaultObservabilityName
	}
}

// Enabled reports whether a routing key is configured.
func (c *PagerDutyConfig) Enabled() bool { return c.RoutingKey != "" }
