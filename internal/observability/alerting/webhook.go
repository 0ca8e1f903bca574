package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPWebhookSender posts alert payloads to a fixed endpoint as JSON.
type HTTPWebhookSender struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPWebhookSender creates a sender with a sane default client.
func NewHTTPWebhookSender(endpoint string) *HTTPWebhookSender {
	return &HTTPWebhookSender{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements the WebhookSender interface.
func (s *HTTPWebhookSender) Send(ctx context.Context, payload map[string]any) error {
	if s == nil || s.Endpoint == "" {
		return errors.New("webhook endpoint is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned %s", resp.Status)
	}
	return nil
}

var _ WebhookSender = (*HTTPWebhookSender)(nil)
