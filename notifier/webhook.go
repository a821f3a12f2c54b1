package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type WebhookMessage struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Alert     Alert     `json:"alert"`
}

type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns nil for an empty URL.
func NewWebhook(url string) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{url: url, client: &http.Client{Timeout: deliveryTimeout}}
}

func severity(action string) string {
	if action == "BLOCK" {
		return "critical"
	}
	return "warning"
}

func (h *Webhook) Notify(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(WebhookMessage{
		Text:      fmt.Sprintf("[AegisGate Alert] %s", alert.Text()),
		Timestamp: alert.Time,
		Severity:  severity(alert.Action),
		Alert:     alert,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("webhook: status %s", resp.Status)
	}
	return nil
}
