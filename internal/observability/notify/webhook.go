package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookOptions configures a Webhook poster.
type WebhookOptions struct {
	// Name labels errors, e.g. "slack".
	Name       string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// Backoff is the base delay between attempts; attempt n waits n*Backoff.
	Backoff time.Duration
}

// Webhook posts JSON bodies with linear-backoff retries.
type Webhook struct {
	name     string
	attempts int
	backoff  time.Duration
	client   *http.Client
}

// NewWebhook constructs a Webhook from options with defaults applied.
func NewWebhook(opts WebhookOptions) *Webhook {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Webhook{
		name:     opts.Name,
		attempts: max(opts.RetryLimit, 0) + 1,
		backoff:  backoff,
		client:   hc,
	}
}

// PostJSON marshals v and posts it to url until a 2xx answer or attempts run out.
func (w *Webhook) PostJSON(ctx context.Context, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", w.name, err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if lastErr = w.post(ctx, url, body); lastErr == nil {
			return nil
		}
		if attempt == w.attempts {
			break
		}
		timer := time.NewTimer(time.Duration(attempt) * w.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (w *Webhook) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", w.name, err)
	}

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeErr := resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook %s: %s", w.name, resp.Status, strings.TrimSpace(string(respBody)))
	}
	if readErr != nil || closeErr != nil {
		return errors.Join(readErr, closeErr)
	}
	return nil
}

// Fallback returns value, or fallback when value is blank.
func Fallback(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
