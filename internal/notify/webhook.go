package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/okibo/skein/pkg/schema"
)

const (
	// DefaultMaxRetries bounds webhook delivery attempts.
	DefaultMaxRetries = 3
	// DefaultBackoffFactor is the base of the exponential wait between attempts.
	DefaultBackoffFactor = 2.0

	defaultWebhookTimeout = 30 * time.Second
	maxDrainBytes         = 4 * 1024
)

// Delivery summarizes a webhook send: whether a 2xx was observed, the last
// HTTP status (0 when no response was received), and how many attempts ran.
type Delivery struct {
	Delivered  bool `json:"delivered"`
	StatusCode int  `json:"status_code,omitempty"`
	Attempts   int  `json:"attempts"`
}

// Dispatcher delivers webhook payloads with bounded exponential backoff.
// Outcome classification:
//   - timeout or generic network error: retryable
//   - HTTP 4xx: terminal, no further attempts
//   - HTTP 5xx: retryable
//
// Failure is a normal outcome — Send never returns an error; exhausting
// retries or a terminal status yields Delivered=false.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher. A nil client gets a fresh one with
// the default timeout so shared transport state is never mutated.
func NewDispatcher(client *http.Client, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &Dispatcher{
		client: client,
		logger: logger,
		sleep:  waitBackoff,
	}
}

// Send attempts delivery up to maxRetries times, waiting
// backoffFactor^attempt seconds between attempts (no wait after the last).
func (d *Dispatcher) Send(ctx context.Context, url string, payload map[string]any, method string, headers map[string]string, maxRetries int, backoffFactor float64) Delivery {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if backoffFactor <= 0 {
		backoffFactor = DefaultBackoffFactor
	}
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.ErrorContext(ctx, "webhook payload not serializable", slog.String("error", err.Error()))
		return Delivery{}
	}

	var result Delivery
	for attempt := 0; attempt < maxRetries; attempt++ {
		result.Attempts = attempt + 1

		status, err := d.attempt(ctx, method, url, body, headers)
		result.StatusCode = status

		switch {
		case err == nil && status >= 200 && status < 300:
			result.Delivered = true
			return result

		case err == nil && status >= 400 && status < 500:
			// Terminal: the receiver rejected the request; retrying cannot help.
			d.logger.WarnContext(ctx, "webhook rejected",
				slog.String("url", url), slog.Int("status", status))
			return result

		default:
			// Network failure, timeout, or server error: retryable.
			if err != nil {
				d.logger.WarnContext(ctx, "webhook attempt failed",
					slog.String("url", url),
					slog.Int("attempt", attempt+1),
					slog.String("error", err.Error()))
			} else {
				d.logger.WarnContext(ctx, "webhook server error",
					slog.String("url", url),
					slog.Int("attempt", attempt+1),
					slog.Int("status", status))
			}
		}

		if attempt < maxRetries-1 {
			wait := time.Duration(math.Pow(backoffFactor, float64(attempt)) * float64(time.Second))
			if err := d.sleep(ctx, wait); err != nil {
				return result
			}
		}
	}

	d.logger.ErrorContext(ctx, "webhook delivery exhausted retries",
		slog.String("url", url), slog.Int("attempts", result.Attempts))
	return result
}

// attempt performs one HTTP request and returns the status code, or an
// error when no response was received.
func (d *Dispatcher) attempt(ctx context.Context, method, url string, body []byte, headers map[string]string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode, nil
}

// waitBackoff sleeps for the given duration or returns early on cancellation.
func waitBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BuildEventPayload assembles the standard workflow.execution envelope,
// optionally merged with a user-supplied custom payload. Custom keys merge
// under the envelope and never override the standard fields.
func BuildEventPayload(workflowID, executionID, status, nodeID string, contextData map[string]any, custom map[string]any) map[string]any {
	data := map[string]any{
		"workflow_id":  workflowID,
		"execution_id": executionID,
		"status":       status,
		"node_id":      nodeID,
	}
	if len(contextData) > 0 {
		data["context"] = contextData
	}

	payload := map[string]any{
		"event":     schema.WebhookEventName,
		"timestamp": time.Now().UTC().Unix(),
		"data":      data,
	}
	for k, v := range custom {
		if _, reserved := payload[k]; reserved {
			continue
		}
		payload[k] = v
	}
	return payload
}
