package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
)

// webhookTimeout bounds every generic webhook delivery; these calls go to
// arbitrary third-party endpoints.
const webhookTimeout = 10 * time.Second

// WebhookSender posts the normalized payload as JSON to the subscriber's
// configured endpoint.
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = webhookTimeout
	}
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSender) Channel() model.Channel { return model.ChannelWebhook }

func (s *WebhookSender) Send(ctx context.Context, settings *model.NotificationSettings, p *Payload) error {
	if settings.WebhookURL == "" {
		return fmt.Errorf("webhook URL missing for subscriber %s", settings.SubscriberID)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
