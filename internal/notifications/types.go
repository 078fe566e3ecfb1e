package notifications

import (
	"time"

	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/config"
)

// ChannelType identifies a notification delivery mechanism
type ChannelType string

const (
	ChannelTypeSlack   ChannelType = "slack"
	ChannelTypeWebhook ChannelType = "webhook"
)

// Channel represents a configured notification destination
type Channel struct {
	ID          uuid.UUID     `json:"id"`
	Type        ChannelType   `json:"type"`
	Name        string        `json:"name"`
	Config      ChannelConfig `json:"config"`
	Enabled     bool          `json:"enabled"`
	Preferences Preferences   `json:"preferences"`
}

// ChannelConfig contains channel-specific delivery settings
type ChannelConfig struct {
	// Slack configuration
	SlackWebhookURL string `json:"slack_webhook_url,omitempty"`
	SlackChannel    string `json:"slack_channel,omitempty"`
	SlackUsername   string `json:"slack_username,omitempty"`

	// Webhook configuration
	WebhookURL     string            `json:"webhook_url,omitempty"`
	WebhookSecret  string            `json:"webhook_secret,omitempty"`
	WebhookHeaders map[string]string `json:"webhook_headers,omitempty"`
}

// Preferences defines which run events a channel receives. MinSeverity
// (LOW, MEDIUM, HIGH, CRITICAL) gates escalation notifications; a non-empty
// Environments list restricts the channel to those environments.
type Preferences struct {
	RunCompleted      bool     `json:"run_completed"`
	RunFailed         bool     `json:"run_failed"`
	RecoveryEscalated bool     `json:"recovery_escalated"`
	MinSeverity       string   `json:"min_severity"`
	Environments      []string `json:"environments"`
}

// RunCompletedNotification contains data for runs that reached a passing
// or partially passing verdict
type RunCompletedNotification struct {
	RunID       uuid.UUID     `json:"run_id"`
	TestID      string        `json:"test_id"`
	Name        string        `json:"name,omitempty"`
	Environment string        `json:"environment"`
	Status      string        `json:"status"`
	Duration    time.Duration `json:"duration"`
	Steps       StepTally     `json:"steps"`
	RunURL      string        `json:"run_url,omitempty"`
}

// RunFailedNotification contains data for runs that failed
type RunFailedNotification struct {
	RunID             uuid.UUID     `json:"run_id"`
	TestID            string        `json:"test_id"`
	Name              string        `json:"name,omitempty"`
	Environment       string        `json:"environment"`
	FailureReason     string        `json:"failure_reason"`
	FailureType       string        `json:"failure_type,omitempty"`
	Severity          string        `json:"severity,omitempty"`
	Duration          time.Duration `json:"duration"`
	Steps             StepTally     `json:"steps"`
	RecoveryApplied   bool          `json:"recovery_applied"`
	RollbackPerformed bool          `json:"rollback_performed"`
	RunURL            string        `json:"run_url,omitempty"`
}

// RecoveryEscalatedNotification contains data for recovery actions that
// changed system posture: degradation applied or rollback executed
type RecoveryEscalatedNotification struct {
	RunID             uuid.UUID `json:"run_id"`
	TestID            string    `json:"test_id"`
	Environment       string    `json:"environment"`
	FailureType       string    `json:"failure_type"`
	Severity          string    `json:"severity"`
	DegradationLevel  string    `json:"degradation_level"`
	RollbackPerformed bool      `json:"rollback_performed"`
	RollbackSucceeded *bool     `json:"rollback_succeeded,omitempty"`
	RunURL            string    `json:"run_url,omitempty"`
}

// StepTally summarizes step outcomes for a finished run
type StepTally struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// EventType represents the type of notification event
type EventType string

const (
	EventTypeRunCompleted      EventType = "run_completed"
	EventTypeRunFailed         EventType = "run_failed"
	EventTypeRecoveryEscalated EventType = "recovery_escalated"
	EventTypeTest              EventType = "test"
)

// DeliveryStatus represents the outcome of a delivery attempt
type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

// Event records a single delivery attempt
type Event struct {
	ID        uuid.UUID              `json:"id"`
	ChannelID uuid.UUID              `json:"channel_id"`
	Channel   ChannelType            `json:"channel"`
	Type      EventType              `json:"type"`
	Status    DeliveryStatus         `json:"status"`
	Subject   string                 `json:"subject,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Stats aggregates delivery outcomes across the journal
type Stats struct {
	TotalSent   int64                 `json:"total_sent"`
	TotalFailed int64                 `json:"total_failed"`
	ByChannel   map[ChannelType]int64 `json:"by_channel"`
	ByEventType map[EventType]int64   `json:"by_event_type"`
	LastUpdated time.Time             `json:"last_updated"`
}

// ChannelsFromConfig builds the notification targets the configuration
// describes. A channel whose endpoint is not configured is simply not built.
func ChannelsFromConfig(cfg *config.NotificationsConfig) []Channel {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	prefs := Preferences{
		RunCompleted:      true,
		RunFailed:         true,
		RecoveryEscalated: true,
		MinSeverity:       cfg.MinSeverity,
	}

	var channels []Channel
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, Channel{
			ID:   uuid.New(),
			Type: ChannelTypeSlack,
			Name: "slack",
			Config: ChannelConfig{
				SlackWebhookURL: cfg.SlackWebhookURL,
				SlackChannel:    cfg.SlackChannel,
				SlackUsername:   "IntelliQA",
			},
			Enabled:     true,
			Preferences: prefs,
		})
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, Channel{
			ID:   uuid.New(),
			Type: ChannelTypeWebhook,
			Name: "webhook",
			Config: ChannelConfig{
				WebhookURL:    cfg.WebhookURL,
				WebhookSecret: cfg.WebhookSecret,
			},
			Enabled:     true,
			Preferences: prefs,
		})
	}
	return channels
}
