package notifications

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/config"
)

// MockChannelHandler is a mock implementation of ChannelHandler
type MockChannelHandler struct {
	mock.Mock
	channelType ChannelType
}

func (m *MockChannelHandler) Send(ctx context.Context, channel Channel, message Message) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockChannelHandler) Test(ctx context.Context, channel Channel) error {
	args := m.Called(ctx, channel)
	return args.Error(0)
}

func (m *MockChannelHandler) GetChannelType() ChannelType {
	return m.channelType
}

func slackChannel(prefs Preferences) Channel {
	return Channel{
		ID:   uuid.New(),
		Type: ChannelTypeSlack,
		Name: "slack",
		Config: ChannelConfig{
			SlackWebhookURL: "https://hooks.slack.com/test",
		},
		Enabled:     true,
		Preferences: prefs,
	}
}

func allEventsPrefs() Preferences {
	return Preferences{
		RunCompleted:      true,
		RunFailed:         true,
		RecoveryEscalated: true,
	}
}

func TestService_SendRunCompleted(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &MockChannelHandler{channelType: ChannelTypeSlack}

	service := NewService(logger, NewDefaultTemplateManager())
	service.RegisterChannelHandler(handler)
	service.AddChannel(slackChannel(allEventsPrefs()))

	notification := RunCompletedNotification{
		RunID:       uuid.New(),
		TestID:      "checkout-flow",
		Environment: "staging",
		Status:      "PASSED",
		Duration:    time.Minute,
		Steps:       StepTally{Total: 4, Passed: 4},
	}

	var sentMessage Message
	handler.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sentMessage = args.Get(2).(Message)
		}).
		Return(nil)

	err := service.SendRunCompleted(context.Background(), notification)
	require.NoError(t, err)

	handler.AssertExpectations(t)
	assert.Equal(t, "✅ Test run checkout-flow finished: PASSED", sentMessage.Subject)
	assert.Equal(t, "markdown", sentMessage.Format)

	stats := service.Stats()
	assert.Equal(t, int64(1), stats.TotalSent)
	assert.Equal(t, int64(0), stats.TotalFailed)
	assert.Equal(t, int64(1), stats.ByChannel[ChannelTypeSlack])
	assert.Equal(t, int64(1), stats.ByEventType[EventTypeRunCompleted])
}

func TestService_SendRunCompleted_DisabledChannel(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &MockChannelHandler{channelType: ChannelTypeSlack}

	service := NewService(logger, NewDefaultTemplateManager())
	service.RegisterChannelHandler(handler)

	channel := slackChannel(allEventsPrefs())
	channel.Enabled = false
	service.AddChannel(channel)

	err := service.SendRunCompleted(context.Background(), RunCompletedNotification{
		RunID:  uuid.New(),
		TestID: "checkout-flow",
		Status: "PASSED",
	})
	require.NoError(t, err)

	handler.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_SendRunCompleted_PreferenceOff(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &MockChannelHandler{channelType: ChannelTypeSlack}

	service := NewService(logger, NewDefaultTemplateManager())
	service.RegisterChannelHandler(handler)

	prefs := allEventsPrefs()
	prefs.RunCompleted = false
	service.AddChannel(slackChannel(prefs))

	err := service.SendRunCompleted(context.Background(), RunCompletedNotification{
		RunID:  uuid.New(),
		TestID: "checkout-flow",
		Status: "PASSED",
	})
	require.NoError(t, err)

	handler.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_SendRunCompleted_EnvironmentFilter(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &MockChannelHandler{channelType: ChannelTypeSlack}

	service := NewService(logger, NewDefaultTemplateManager())
	service.RegisterChannelHandler(handler)

	prefs := allEventsPrefs()
	prefs.Environments = []string{"production"}
	service.AddChannel(slackChannel(prefs))

	err := service.SendRunCompleted(context.Background(), RunCompletedNotification{
		RunID:       uuid.New(),
		TestID:      "checkout-flow",
		Environment: "staging",
		Status:      "PASSED",
	})
	require.NoError(t, err)

	handler.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_SendRunFailed_HandlerError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &MockChannelHandler{channelType: ChannelTypeSlack}

	service := NewService(logger, NewDefaultTemplateManager())
	service.RegisterChannelHandler(handler)
	service.AddChannel(slackChannel(allEventsPrefs()))

	handler.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("slack API returned status 500"))

	err := service.SendRunFailed(context.Background(), RunFailedNotification{
		RunID:         uuid.New(),
		TestID:        "checkout-flow",
		Environment:   "staging",
		FailureReason: "step timed out",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send to 1 channels")

	stats := service.Stats()
	assert.Equal(t, int64(0), stats.TotalSent)
	assert.Equal(t, int64(1), stats.TotalFailed)

	events := service.RecentEvents(1)
	require.Len(t, events, 1)
	assert.Equal(t, StatusFailed, events[0].Status)
	assert.Contains(t, events[0].Error, "slack API returned status 500")
}

func TestService_SendRunFailed_NoHandler(t *testing.T) {
	logger := zaptest.NewLogger(t)

	service := NewService(logger, NewDefaultTemplateManager())
	service.AddChannel(slackChannel(allEventsPrefs()))

	err := service.SendRunFailed(context.Background(), RunFailedNotification{
		RunID:         uuid.New(),
		TestID:        "checkout-flow",
		FailureReason: "step timed out",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
}

func TestService_SendRecoveryEscalated_SeverityThreshold(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &MockChannelHandler{channelType: ChannelTypeSlack}

	service := NewService(logger, NewDefaultTemplateManager())
	service.RegisterChannelHandler(handler)

	prefs := allEventsPrefs()
	prefs.MinSeverity = "HIGH"
	service.AddChannel(slackChannel(prefs))

	// MEDIUM is below the HIGH threshold
	err := service.SendRecoveryEscalated(context.Background(), RecoveryEscalatedNotification{
		RunID:            uuid.New(),
		TestID:           "checkout-flow",
		Environment:      "staging",
		FailureType:      "TIMEOUT",
		Severity:         "MEDIUM",
		DegradationLevel: "MINIMAL",
	})
	require.NoError(t, err)
	handler.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)

	// CRITICAL passes
	handler.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	err = service.SendRecoveryEscalated(context.Background(), RecoveryEscalatedNotification{
		RunID:            uuid.New(),
		TestID:           "checkout-flow",
		Environment:      "staging",
		FailureType:      "CONNECTION_FAILURE",
		Severity:         "CRITICAL",
		DegradationLevel: "SEVERE",
	})
	require.NoError(t, err)
	handler.AssertNumberOfCalls(t, "Send", 1)
}

func TestService_SendRecoveryEscalated_NoThresholdAllowsAll(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &MockChannelHandler{channelType: ChannelTypeSlack}

	service := NewService(logger, NewDefaultTemplateManager())
	service.RegisterChannelHandler(handler)
	service.AddChannel(slackChannel(allEventsPrefs()))

	handler.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := service.SendRecoveryEscalated(context.Background(), RecoveryEscalatedNotification{
		RunID:            uuid.New(),
		TestID:           "checkout-flow",
		Environment:      "staging",
		FailureType:      "TIMEOUT",
		Severity:         "LOW",
		DegradationLevel: "MINIMAL",
	})

	require.NoError(t, err)
	handler.AssertNumberOfCalls(t, "Send", 1)
}

func TestService_TestConnection(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := &MockChannelHandler{channelType: ChannelTypeSlack}

	service := NewService(logger, NewDefaultTemplateManager())
	service.RegisterChannelHandler(handler)

	channel := slackChannel(allEventsPrefs())
	handler.On("Test", mock.Anything, channel).Return(nil)

	err := service.TestConnection(context.Background(), channel)
	require.NoError(t, err)
	handler.AssertExpectations(t)

	events := service.RecentEvents(1)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeTest, events[0].Type)
	assert.Equal(t, StatusSent, events[0].Status)
}

func TestService_TestConnection_NoHandler(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service := NewService(logger, NewDefaultTemplateManager())

	err := service.TestConnection(context.Background(), slackChannel(allEventsPrefs()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
}

func TestService_GetSupportedChannels(t *testing.T) {
	logger := zaptest.NewLogger(t)

	service := NewService(logger, NewDefaultTemplateManager())
	service.RegisterChannelHandler(&MockChannelHandler{channelType: ChannelTypeSlack})
	service.RegisterChannelHandler(&MockChannelHandler{channelType: ChannelTypeWebhook})

	supported := service.GetSupportedChannels()
	assert.Len(t, supported, 2)
	assert.Contains(t, supported, ChannelTypeSlack)
	assert.Contains(t, supported, ChannelTypeWebhook)
}

func TestChannelsFromConfig(t *testing.T) {
	cfg := &config.NotificationsConfig{
		Enabled:         true,
		SlackWebhookURL: "https://hooks.slack.com/services/T/B/X",
		SlackChannel:    "#qa-alerts",
		WebhookURL:      "https://ops.example.com/hooks/intelli-qa",
		WebhookSecret:   "s3cret",
		MinSeverity:     "HIGH",
	}

	channels := ChannelsFromConfig(cfg)
	require.Len(t, channels, 2)

	assert.Equal(t, ChannelTypeSlack, channels[0].Type)
	assert.Equal(t, "#qa-alerts", channels[0].Config.SlackChannel)
	assert.True(t, channels[0].Enabled)
	assert.True(t, channels[0].Preferences.RunFailed)
	assert.Equal(t, "HIGH", channels[0].Preferences.MinSeverity)

	assert.Equal(t, ChannelTypeWebhook, channels[1].Type)
	assert.Equal(t, "s3cret", channels[1].Config.WebhookSecret)
}

func TestChannelsFromConfig_Disabled(t *testing.T) {
	cfg := &config.NotificationsConfig{
		Enabled:         false,
		SlackWebhookURL: "https://hooks.slack.com/services/T/B/X",
	}

	assert.Nil(t, ChannelsFromConfig(cfg))
	assert.Nil(t, ChannelsFromConfig(nil))
}

func TestJournal_RingEviction(t *testing.T) {
	journal := NewJournal(3)

	for i := 0; i < 5; i++ {
		journal.Record(Event{
			ID:        uuid.New(),
			Channel:   ChannelTypeSlack,
			Type:      EventTypeRunCompleted,
			Status:    StatusSent,
			Subject:   fmt.Sprintf("event-%d", i),
			CreatedAt: time.Now(),
		})
	}

	recent := journal.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "event-4", recent[0].Subject)
	assert.Equal(t, "event-3", recent[1].Subject)
	assert.Equal(t, "event-2", recent[2].Subject)

	stats := journal.Stats()
	assert.Equal(t, int64(5), stats.TotalSent)
}
