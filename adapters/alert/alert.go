// Package alert provides AlertSink implementations.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/ports"
)

// LogSink writes alerts to the structured log. It is the default sink
// and never fails.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a log-backed alert sink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "alerts").Logger()}
}

// Notify logs the alert.
func (s *LogSink) Notify(ctx context.Context, a ports.Alert) error {
	event := s.log.Warn()
	if a.Severity == "CRITICAL" {
		event = s.log.Error()
	}
	event.
		Str("alert_id", a.ID).
		Str("kind", string(a.Kind)).
		Str("identity", a.Identity).
		Str("provider", a.Provider).
		Str("severity", string(a.Severity)).
		Msg(a.Message)
	return nil
}

// WebhookSink POSTs alerts as JSON to a configured URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook-backed alert sink.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Identity  string    `json:"identity,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Notify delivers the alert. A non-2xx response is an error; callers
// log and move on.
func (s *WebhookSink) Notify(ctx context.Context, a ports.Alert) error {
	body, err := json.Marshal(webhookPayload{
		ID:        a.ID,
		Kind:      string(a.Kind),
		Identity:  a.Identity,
		Provider:  a.Provider,
		Severity:  string(a.Severity),
		Message:   a.Message,
		CreatedAt: a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Ensure interface compliance.
var (
	_ ports.AlertSink = (*LogSink)(nil)
	_ ports.AlertSink = (*WebhookSink)(nil)
)
