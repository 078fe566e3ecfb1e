package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
)

// Service fans run lifecycle events out to the configured notification
// channels
type Service struct {
	logger    *zap.Logger
	templates TemplateManager
	journal   *Journal

	mu       sync.RWMutex
	handlers map[ChannelType]ChannelHandler
	targets  []Channel
}

// ChannelHandler defines the interface for channel-specific delivery
type ChannelHandler interface {
	Send(ctx context.Context, channel Channel, message Message) error
	Test(ctx context.Context, channel Channel) error
	GetChannelType() ChannelType
}

// Message represents a rendered notification ready for delivery
type Message struct {
	Subject  string                 `json:"subject"`
	Body     string                 `json:"body"`
	Format   string                 `json:"format"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TemplateManager renders run events into channel messages
type TemplateManager interface {
	RenderRunCompleted(notification RunCompletedNotification, format string) (Message, error)
	RenderRunFailed(notification RunFailedNotification, format string) (Message, error)
	RenderRecoveryEscalated(notification RecoveryEscalatedNotification, format string) (Message, error)
}

// NewService creates a new notification service
func NewService(logger *zap.Logger, templates TemplateManager) *Service {
	return &Service{
		logger:    logger,
		templates: templates,
		journal:   NewJournal(defaultJournalCapacity),
		handlers:  make(map[ChannelType]ChannelHandler),
	}
}

// RegisterChannelHandler registers a handler for a specific channel type
func (s *Service) RegisterChannelHandler(handler ChannelHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[handler.GetChannelType()] = handler
}

// AddChannel adds a notification target
func (s *Service) AddChannel(channel Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, channel)
}

// Channels returns the configured notification targets
func (s *Service) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]Channel, len(s.targets))
	copy(channels, s.targets)
	return channels
}

// SendRunCompleted sends notification for a run that finished with a
// passing or partially passing verdict
func (s *Service) SendRunCompleted(ctx context.Context, notification RunCompletedNotification) error {
	s.logger.Info("Sending run completed notification",
		zap.String("run_id", notification.RunID.String()),
		zap.String("test_id", notification.TestID),
		zap.String("status", notification.Status))

	channels := s.channelsFor(EventTypeRunCompleted, notification.Environment, "")

	var sendErrors []error
	for _, channel := range channels {
		err := s.sendToChannel(ctx, channel, EventTypeRunCompleted, func(format string) (Message, error) {
			return s.templates.RenderRunCompleted(notification, format)
		}, map[string]interface{}{
			"run_id":      notification.RunID.String(),
			"test_id":     notification.TestID,
			"environment": notification.Environment,
			"status":      notification.Status,
		})
		if err != nil {
			s.logger.Error("Failed to send run completed notification",
				zap.String("channel_id", channel.ID.String()),
				zap.String("channel_type", string(channel.Type)),
				zap.Error(err))
			sendErrors = append(sendErrors, err)
		}
	}

	if len(sendErrors) > 0 {
		return fmt.Errorf("failed to send to %d channels: %v", len(sendErrors), sendErrors)
	}
	return nil
}

// SendRunFailed sends notification for a run that failed
func (s *Service) SendRunFailed(ctx context.Context, notification RunFailedNotification) error {
	s.logger.Info("Sending run failed notification",
		zap.String("run_id", notification.RunID.String()),
		zap.String("test_id", notification.TestID),
		zap.String("failure_reason", notification.FailureReason))

	channels := s.channelsFor(EventTypeRunFailed, notification.Environment, "")

	var sendErrors []error
	for _, channel := range channels {
		err := s.sendToChannel(ctx, channel, EventTypeRunFailed, func(format string) (Message, error) {
			return s.templates.RenderRunFailed(notification, format)
		}, map[string]interface{}{
			"run_id":       notification.RunID.String(),
			"test_id":      notification.TestID,
			"environment":  notification.Environment,
			"failure_type": notification.FailureType,
			"severity":     notification.Severity,
		})
		if err != nil {
			s.logger.Error("Failed to send run failed notification",
				zap.String("channel_id", channel.ID.String()),
				zap.String("channel_type", string(channel.Type)),
				zap.Error(err))
			sendErrors = append(sendErrors, err)
		}
	}

	if len(sendErrors) > 0 {
		return fmt.Errorf("failed to send to %d channels: %v", len(sendErrors), sendErrors)
	}
	return nil
}

// SendRecoveryEscalated sends notification for a recovery action that
// changed system posture
func (s *Service) SendRecoveryEscalated(ctx context.Context, notification RecoveryEscalatedNotification) error {
	s.logger.Info("Sending recovery escalated notification",
		zap.String("run_id", notification.RunID.String()),
		zap.String("test_id", notification.TestID),
		zap.String("severity", notification.Severity))

	channels := s.channelsFor(EventTypeRecoveryEscalated, notification.Environment, notification.Severity)

	var sendErrors []error
	for _, channel := range channels {
		err := s.sendToChannel(ctx, channel, EventTypeRecoveryEscalated, func(format string) (Message, error) {
			return s.templates.RenderRecoveryEscalated(notification, format)
		}, map[string]interface{}{
			"run_id":            notification.RunID.String(),
			"test_id":           notification.TestID,
			"environment":       notification.Environment,
			"failure_type":      notification.FailureType,
			"severity":          notification.Severity,
			"degradation_level": notification.DegradationLevel,
		})
		if err != nil {
			s.logger.Error("Failed to send recovery escalated notification",
				zap.String("channel_id", channel.ID.String()),
				zap.String("channel_type", string(channel.Type)),
				zap.Error(err))
			sendErrors = append(sendErrors, err)
		}
	}

	if len(sendErrors) > 0 {
		return fmt.Errorf("failed to send to %d channels: %v", len(sendErrors), sendErrors)
	}
	return nil
}

// TestConnection tests the notification channel connectivity
func (s *Service) TestConnection(ctx context.Context, channel Channel) error {
	s.mu.RLock()
	handler, exists := s.handlers[channel.Type]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for channel type: %s", channel.Type)
	}

	err := handler.Test(ctx, channel)

	event := Event{
		ID:        uuid.New(),
		ChannelID: channel.ID,
		Channel:   channel.Type,
		Type:      EventTypeTest,
		Status:    StatusSent,
		Subject:   "Testing connection",
		CreatedAt: time.Now(),
	}
	if err != nil {
		event.Status = StatusFailed
		event.Error = err.Error()
	}
	s.journal.Record(event)

	return err
}

// GetSupportedChannels returns the channel types with a registered handler
func (s *Service) GetSupportedChannels() []ChannelType {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]ChannelType, 0, len(s.handlers))
	for channelType := range s.handlers {
		channels = append(channels, channelType)
	}
	return channels
}

// Stats returns aggregate delivery counts
func (s *Service) Stats() Stats {
	return s.journal.Stats()
}

// RecentEvents returns up to n delivery events, newest first
func (s *Service) RecentEvents(n int) []Event {
	return s.journal.Recent(n)
}

// channelsFor selects the enabled targets whose preferences accept the
// event. Severity only gates escalation events; other events pass an empty
// severity.
func (s *Service) channelsFor(event EventType, environment, severity string) []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []Channel
	for _, channel := range s.targets {
		if !channel.Enabled {
			continue
		}
		if !acceptsEvent(channel.Preferences, event) {
			continue
		}
		if !acceptsEnvironment(channel.Preferences, environment) {
			continue
		}
		if severity != "" && !meetsSeverityThreshold(severity, channel.Preferences.MinSeverity) {
			continue
		}
		filtered = append(filtered, channel)
	}
	return filtered
}

func acceptsEvent(prefs Preferences, event EventType) bool {
	switch event {
	case EventTypeRunCompleted:
		return prefs.RunCompleted
	case EventTypeRunFailed:
		return prefs.RunFailed
	case EventTypeRecoveryEscalated:
		return prefs.RecoveryEscalated
	default:
		return true
	}
}

func acceptsEnvironment(prefs Preferences, environment string) bool {
	if len(prefs.Environments) == 0 {
		return true
	}
	for _, env := range prefs.Environments {
		if env == environment {
			return true
		}
	}
	return false
}

// meetsSeverityThreshold reports whether the event severity reaches the
// channel's minimum. An unset or unparseable minimum allows everything.
func meetsSeverityThreshold(severity, minSeverity string) bool {
	parsed, err := errors.ParseFailureSeverity(severity)
	if err != nil {
		return false
	}
	threshold, err := errors.ParseFailureSeverity(minSeverity)
	if err != nil {
		return true
	}
	return parsed.AtLeast(threshold)
}

func (s *Service) sendToChannel(ctx context.Context, channel Channel, eventType EventType, render func(format string) (Message, error), metadata map[string]interface{}) error {
	s.mu.RLock()
	handler, exists := s.handlers[channel.Type]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for channel type: %s", channel.Type)
	}

	event := Event{
		ID:        uuid.New(),
		ChannelID: channel.ID,
		Channel:   channel.Type,
		Type:      eventType,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	message, err := render(s.getFormatForChannel(channel.Type))
	if err != nil {
		event.Status = StatusFailed
		event.Error = fmt.Sprintf("failed to render message: %v", err)
		s.journal.Record(event)
		return fmt.Errorf("failed to render message: %w", err)
	}
	event.Subject = message.Subject

	if err := handler.Send(ctx, channel, message); err != nil {
		event.Status = StatusFailed
		event.Error = err.Error()
		s.journal.Record(event)
		return fmt.Errorf("failed to send message: %w", err)
	}

	event.Status = StatusSent
	s.journal.Record(event)
	return nil
}

func (s *Service) getFormatForChannel(channelType ChannelType) string {
	switch channelType {
	case ChannelTypeSlack:
		return "markdown"
	default:
		return "text"
	}
}
