// Package pagerduty raises PagerDuty Events API v2 incidents for failed runs.
package pagerduty

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/target/mmk-jobcoord/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// Endpoint overrides APIEndpoint.
	Endpoint string
}

// Client publishes trigger events via PagerDuty's Events API v2.
type Client struct {
	routingKey string
	source     string
	component  string
	endpoint   string
	hook       *notify.Webhook
}

var _ notify.Sink = (*Client)(nil)

// NewClient constructs a PagerDuty events client. A routing key is required.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	return &Client{
		routingKey: key,
		source:     notify.Fallback(strings.TrimSpace(cfg.Source), "jobcoord"),
		component:  notify.Fallback(strings.TrimSpace(cfg.Component), "jobcoord"),
		endpoint:   notify.Fallback(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
		hook: notify.NewWebhook(notify.WebhookOptions{
			Name:       "pagerduty",
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
			Client:     cfg.Client,
		}),
	}, nil
}

// SendRunFailure submits a trigger event.
func (c *Client) SendRunFailure(ctx context.Context, payload notify.RunFailurePayload) error {
	return c.hook.PostJSON(ctx, c.endpoint, c.buildEvent(payload))
}

func (c *Client) buildEvent(p notify.RunFailurePayload) map[string]any {
	occurredAt := p.OccurredAt.UTC()
	if p.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	runID := strconv.FormatInt(p.RunID, 10)
	custom := map[string]any{
		"run_id":      p.RunID,
		"job_name":    p.JobName,
		"trigger":     p.Trigger,
		"worker_id":   p.WorkerID,
		"source":      p.Source,
		"error":       p.Error,
		"error_class": p.ErrorClass,
	}
	for k, v := range p.Metadata {
		if _, exists := custom[k]; !exists {
			custom[k] = v
		}
	}

	return map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		// One incident per run; a second notification for the same run updates it.
		"dedup_key": strings.Trim(p.JobName+":"+runID, ":"),
		"payload": map[string]any{
			"summary": fmt.Sprintf(
				"Job %s run #%s failed",
				notify.Fallback(p.JobName, "unknown"),
				runID,
			),
			"severity":       notify.Fallback(strings.ToLower(p.Severity), notify.SeverityCritical),
			"source":         c.source,
			"component":      c.component,
			"timestamp":      occurredAt.Format(time.RFC3339),
			"custom_details": custom,
		},
	}
}
