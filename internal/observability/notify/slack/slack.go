// Package slack posts failed-run notifications to a Slack incoming webhook.
package slack

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/target/mmk-jobcoord/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client delivers failed-run notifications to a Slack webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	hook       *notify.Webhook
}

var _ notify.Sink = (*Client)(nil)

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}
	return &Client{
		webhookURL: webhookURL,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   notify.Fallback(strings.TrimSpace(cfg.Username), "jobcoord"),
		hook: notify.NewWebhook(notify.WebhookOptions{
			Name:       "slack",
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
			Client:     cfg.Client,
		}),
	}, nil
}

// SendRunFailure posts a formatted message to Slack.
func (c *Client) SendRunFailure(ctx context.Context, payload notify.RunFailurePayload) error {
	return c.hook.PostJSON(ctx, c.webhookURL, c.formatMessage(payload))
}

func (c *Client) formatMessage(p notify.RunFailurePayload) map[string]any {
	var text strings.Builder
	text.WriteString("*Job run failed*")
	if p.RunID > 0 {
		text.WriteString(" `#")
		text.WriteString(strconv.FormatInt(p.RunID, 10))
		text.WriteByte('`')
	}
	if p.JobName != "" {
		text.WriteString(" (")
		text.WriteString(escape(p.JobName))
		text.WriteByte(')')
	}
	text.WriteByte('\n')

	fields := []struct{ label, value string }{
		{"Severity", notify.Fallback(p.Severity, notify.SeverityCritical)},
		{"Source", p.Source},
		{"Trigger", p.Trigger},
		{"Worker", p.WorkerID},
		{"Error class", p.ErrorClass},
		{"Error", escape(p.Error)},
	}
	for _, f := range fields {
		writeField(&text, "• ", f.label, f.value)
	}
	if len(p.Metadata) > 0 {
		text.WriteString("• Metadata:\n")
		for _, k := range slices.Sorted(maps.Keys(p.Metadata)) {
			writeField(&text, "    • ", k, escape(p.Metadata[k]))
		}
	}

	ts := p.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	text.WriteString("• Timestamp: ")
	text.WriteString(ts.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func writeField(text *strings.Builder, bullet, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString(bullet)
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(v string) string {
	return slackEscaper.Replace(v)
}
