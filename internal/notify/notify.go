// Package notify dispatches outbound alerts when circuit breakers
// escalate. Dispatch is fire-and-forget: failures are logged by the
// caller and never retried or escalated from this subsystem.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Field is a single structured detail attached to an alert.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Alert is a structured outbound notification.
type Alert struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Fields      []Field `json:"fields,omitempty"`
}

// Notifier delivers alerts to an external channel.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// Webhook posts alerts as JSON to a configured endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier for the given URL.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements Notifier.
func (w *Webhook) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned %s", resp.Status)
	}
	return nil
}

// Nop discards all alerts.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, Alert) error { return nil }
