package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/notifications"
)

// WebhookHandler posts notifications as JSON to an arbitrary HTTP endpoint.
// When a secret is configured the payload is signed with HMAC-SHA256 and
// the signature sent as X-IntelliQA-Signature-256.
type WebhookHandler struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// WebhookPayload is the body posted to the receiving endpoint
type WebhookPayload struct {
	Event     string                 `json:"event"`
	Subject   string                 `json:"subject"`
	Body      string                 `json:"body"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewWebhookHandler creates a new generic webhook notification handler
func NewWebhookHandler(logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Send posts a notification to the configured webhook endpoint
func (h *WebhookHandler) Send(ctx context.Context, channel notifications.Channel, message notifications.Message) error {
	if channel.Config.WebhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	event := "notification"
	if eventType, exists := message.Metadata["event_type"]; exists {
		event = fmt.Sprintf("%v", eventType)
	}

	payload, err := json.Marshal(WebhookPayload{
		Event:     event,
		Subject:   message.Subject,
		Body:      message.Body,
		Metadata:  message.Metadata,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", channel.Config.WebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "IntelliQA-Webhook")
	for key, value := range channel.Config.WebhookHeaders {
		req.Header.Set(key, value)
	}
	if channel.Config.WebhookSecret != "" {
		req.Header.Set("X-IntelliQA-Signature-256", signPayload(payload, channel.Config.WebhookSecret))
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	h.logger.Info("Successfully sent webhook notification",
		zap.String("channel_id", channel.ID.String()),
		zap.String("webhook_url", maskWebhookURL(channel.Config.WebhookURL)),
		zap.String("event", event))

	return nil
}

// Test tests the webhook channel connectivity
func (h *WebhookHandler) Test(ctx context.Context, channel notifications.Channel) error {
	if channel.Config.WebhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	testMessage := notifications.Message{
		Subject: "IntelliQA Test Notification",
		Body:    "This is a test notification from IntelliQA. If you receive this, your webhook integration is working correctly!",
		Format:  "text",
		Metadata: map[string]interface{}{
			"event_type": "test",
		},
	}

	return h.Send(ctx, channel, testMessage)
}

// GetChannelType returns the channel type
func (h *WebhookHandler) GetChannelType() notifications.ChannelType {
	return notifications.ChannelTypeWebhook
}

// signPayload computes the sha256= prefixed hex HMAC of the payload
func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
