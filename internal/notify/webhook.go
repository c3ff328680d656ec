package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier POSTs alerts to a configured endpoint as JSON
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Text      string `json:"text"`
	Severity  string `json:"severity"`
	Kind      string `json:"kind"`
	ProjectID string `json:"project,omitempty"`
	RunID     string `json:"runId,omitempty"`
	Context   string `json:"context,omitempty"`
}

// NewWebhookNotifier creates a webhook notifier. An empty URL disables it.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts one alert
func (w *WebhookNotifier) Send(a Alert) error {
	if w.url == "" {
		return nil
	}

	payload, err := json.Marshal(webhookPayload{
		Text:      a.Text,
		Severity:  string(a.Severity),
		Kind:      string(a.Kind),
		ProjectID: a.ProjectID,
		RunID:     a.RunID,
		Context:   a.Context,
	})
	if err != nil {
		return err
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
