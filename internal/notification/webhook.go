package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EventHeader carries the payload's event name so receivers can route
// without decoding the body.
const EventHeader = "X-Posmon-Event"

// WebhookNotifier POSTs position alerts as JSON to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// webhookPayload is keyed by position so receivers can upsert on positionId.
type webhookPayload struct {
	Event      string     `json:"event"` // position.open, position.take_profit, position.stop_loss
	PositionID string     `json:"positionId"`
	Pair       string     `json:"pair"`
	Level      AlertLevel `json:"level"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	TS         int64      `json:"ts"` // unix ms
}

func newWebhookPayload(alert Alert, now time.Time) webhookPayload {
	return webhookPayload{
		Event:      "position." + string(alert.Kind),
		PositionID: alert.PositionID,
		Pair:       alert.Pair,
		Level:      alert.Level,
		Title:      alert.Title,
		Message:    alert.Message,
		TS:         now.UnixMilli(),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := newWebhookPayload(alert, time.Now())
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, payload.Event)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s for %s: unexpected status %d", payload.Event, alert.PositionID, resp.StatusCode)
	}
	return nil
}
