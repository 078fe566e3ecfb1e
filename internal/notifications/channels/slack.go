package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/notifications"
)

// SlackHandler implements notification sending to Slack via incoming
// webhooks
type SlackHandler struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackHandler creates a new Slack notification handler
func NewSlackHandler(logger *zap.Logger) *SlackHandler {
	return &SlackHandler{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Send sends a notification to Slack
func (h *SlackHandler) Send(ctx context.Context, channel notifications.Channel, message notifications.Message) error {
	if channel.Config.SlackWebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	slackMessage := h.buildSlackMessage(channel, message)

	payload, err := json.Marshal(slackMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", channel.Config.SlackWebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	h.logger.Info("Successfully sent Slack notification",
		zap.String("channel_id", channel.ID.String()),
		zap.String("webhook_url", maskWebhookURL(channel.Config.SlackWebhookURL)))

	return nil
}

// Test tests the Slack channel connectivity
func (h *SlackHandler) Test(ctx context.Context, channel notifications.Channel) error {
	if channel.Config.SlackWebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	testMessage := notifications.Message{
		Subject: "IntelliQA Test Notification",
		Body:    "This is a test notification from IntelliQA. If you receive this, your Slack integration is working correctly!",
		Format:  "markdown",
	}

	return h.Send(ctx, channel, testMessage)
}

// GetChannelType returns the channel type
func (h *SlackHandler) GetChannelType() notifications.ChannelType {
	return notifications.ChannelTypeSlack
}

// buildSlackMessage converts a generic notification message to Slack format
func (h *SlackHandler) buildSlackMessage(channel notifications.Channel, message notifications.Message) SlackMessage {
	slackMessage := SlackMessage{
		Text:     message.Subject,
		Username: channel.Config.SlackUsername,
		Channel:  channel.Config.SlackChannel,
	}

	// Set icon based on message metadata
	if severity, exists := message.Metadata["severity"]; exists {
		switch severity {
		case "CRITICAL", "HIGH":
			slackMessage.IconEmoji = ":rotating_light:"
		case "MEDIUM":
			slackMessage.IconEmoji = ":warning:"
		case "LOW":
			slackMessage.IconEmoji = ":information_source:"
		default:
			slackMessage.IconEmoji = ":test_tube:"
		}
	} else {
		slackMessage.IconEmoji = ":test_tube:"
	}

	// Create attachment for rich formatting
	attachment := SlackAttachment{
		Text:      message.Body,
		Footer:    "IntelliQA Test Runner",
		Timestamp: time.Now().Unix(),
	}

	// Set color based on message type or run verdict
	if eventType, exists := message.Metadata["event_type"]; exists {
		switch eventType {
		case "run_completed":
			if status, exists := message.Metadata["status"]; exists && status == "PASSED" {
				attachment.Color = "good"
			} else {
				attachment.Color = "warning"
			}
		case "run_failed":
			attachment.Color = "danger"
		case "recovery_escalated":
			attachment.Color = "danger"
		default:
			attachment.Color = "#36a64f"
		}
	}

	// Add fields from metadata
	if testID, exists := message.Metadata["test_id"]; exists {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: "Test",
			Value: fmt.Sprintf("%v", testID),
			Short: true,
		})
	}

	if environment, exists := message.Metadata["environment"]; exists {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: "Environment",
			Value: fmt.Sprintf("%v", environment),
			Short: true,
		})
	}

	if steps, exists := message.Metadata["steps"]; exists {
		if tally, ok := steps.(notifications.StepTally); ok {
			attachment.Fields = append(attachment.Fields, SlackField{
				Title: "Steps",
				Value: fmt.Sprintf("Passed: %d Failed: %d Skipped: %d", tally.Passed, tally.Failed, tally.Skipped),
				Short: true,
			})
		}
	}

	if degradationLevel, exists := message.Metadata["degradation_level"]; exists {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: "Degradation",
			Value: fmt.Sprintf("%v", degradationLevel),
			Short: true,
		})
	}

	if runURL, exists := message.Metadata["run_url"]; exists && runURL != "" {
		attachment.TitleLink = fmt.Sprintf("%v", runURL)
		attachment.Title = "View Run"
	}

	slackMessage.Attachments = []SlackAttachment{attachment}

	return slackMessage
}

// maskWebhookURL masks the webhook URL for logging
func maskWebhookURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***"
}
