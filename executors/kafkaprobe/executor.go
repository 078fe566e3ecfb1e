package kafkaprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
)

const (
	ExecutorName    = "kafkaprobe"
	ExecutorVersion = "1.0.0"

	TypePublish = "kafka_publish"
	TypeConsume = "kafka_consume"
)

// Config contains broker connection settings for the Kafka executor
type Config struct {
	Brokers      []string      `json:"brokers"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BatchTimeout time.Duration `json:"batch_timeout"`
	RequiredAcks int           `json:"required_acks"`
	GroupPrefix  string        `json:"group_prefix"`
	MaxBytes     int           `json:"max_bytes"`
}

// DefaultConfig returns configuration suitable for a local broker
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		DialTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: 1,
		GroupPrefix:  "intelliqa-probe",
		MaxBytes:     1048576,
	}
}

// Executor implements the StepExecutor interface for Kafka messaging
// steps. Writers are cached per topic and reused across steps; consume
// steps open a short-lived reader under a fresh consumer group so each
// probe sees the topic from the beginning.
type Executor struct {
	config Config

	mu      sync.RWMutex
	writers map[string]*kafka.Writer
}

var _ executor.StepExecutor = (*Executor)(nil)

// NewExecutor creates a Kafka executor with default configuration
func NewExecutor() *Executor {
	return NewExecutorWithConfig(DefaultConfig())
}

// NewExecutorWithConfig creates a Kafka executor with custom configuration
func NewExecutorWithConfig(config Config) *Executor {
	if len(config.Brokers) == 0 {
		config.Brokers = DefaultConfig().Brokers
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultConfig().MaxBytes
	}
	if config.GroupPrefix == "" {
		config.GroupPrefix = DefaultConfig().GroupPrefix
	}
	return &Executor{
		config:  config,
		writers: make(map[string]*kafka.Writer),
	}
}

// Execute runs one messaging step against the configured brokers
func (e *Executor) Execute(ctx context.Context, step executor.TestStep, testCtx *executor.TestContext) (*executor.StepResult, error) {
	started := time.Now()

	topic := stringValue(step.Parameters, "topic")
	if topic == "" {
		return nil, fmt.Errorf("step %s: topic parameter is required", step.ID)
	}

	result := &executor.StepResult{
		StepID:    step.ID,
		StartedAt: started,
	}

	var err error
	switch step.Type {
	case TypePublish:
		err = e.publish(ctx, step, testCtx, topic, result)
	case TypeConsume:
		err = e.consume(ctx, step, testCtx, topic, result)
	default:
		return nil, fmt.Errorf("step %s: unsupported step type %q", step.ID, step.Type)
	}

	if err != nil {
		result.Status = executor.StepStatusFailed
		result.Error = err.Error()
	} else {
		result.Status = executor.StepStatusPassed
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)

	testCtx.RecordInteraction(executor.ServiceInteraction{
		ServiceID: step.ServiceID,
		StepID:    step.ID,
		Operation: step.Type + " " + topic,
		Success:   result.Status == executor.StepStatusPassed,
		Duration:  result.Duration,
	})

	return result, nil
}

func (e *Executor) publish(ctx context.Context, step executor.TestStep, testCtx *executor.TestContext, topic string, result *executor.StepResult) error {
	value, err := messagePayload(step)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(stringValue(step.Parameters, "key")),
		Value: value,
		Time:  time.Now(),
	}

	if err := e.writerFor(topic).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to topic %q: %w", topic, err)
	}

	result.Output = map[string]interface{}{
		"topic":       topic,
		"value_bytes": len(value),
	}
	testCtx.SetVariable(step.ID+".topic", topic)
	return nil
}

// consume reads messages until one matches the expected outcome. The
// step timeout on the context bounds how long the probe waits.
func (e *Executor) consume(ctx context.Context, step executor.TestStep, testCtx *executor.TestContext, topic string, result *executor.StepResult) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     e.config.Brokers,
		Topic:       topic,
		GroupID:     fmt.Sprintf("%s-%s", e.config.GroupPrefix, uuid.New().String()),
		MaxBytes:    e.config.MaxBytes,
		StartOffset: kafka.FirstOffset,
		Dialer: &kafka.Dialer{
			Timeout:   e.config.DialTimeout,
			DualStack: true,
		},
	})
	defer reader.Close()

	wantKey := stringValue(step.ExpectedOutcome, "key")
	wantValue := stringValue(step.ExpectedOutcome, "value_contains")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("no matching message on topic %q: %w", topic, err)
		}
		if !matchesMessage(msg, wantKey, wantValue) {
			continue
		}

		result.Output = map[string]interface{}{
			"topic":     topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}
		testCtx.SetVariable(step.ID+".key", string(msg.Key))
		testCtx.SetVariable(step.ID+".value", string(msg.Value))
		testCtx.SetVariable(step.ID+".offset", msg.Offset)
		return nil
	}
}

// matchesMessage reports whether a message satisfies the consume
// criteria. Empty criteria match any message.
func matchesMessage(msg kafka.Message, wantKey, wantValue string) bool {
	if wantKey != "" && string(msg.Key) != wantKey {
		return false
	}
	if wantValue != "" && !strings.Contains(string(msg.Value), wantValue) {
		return false
	}
	return true
}

// messagePayload builds the publish payload from either a JSON "event"
// parameter or a raw "value" string
func messagePayload(step executor.TestStep) ([]byte, error) {
	if raw, ok := step.Parameters["event"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("step %s: marshal event: %w", step.ID, err)
		}
		return data, nil
	}
	if v := stringValue(step.Parameters, "value"); v != "" {
		return []byte(v), nil
	}
	return nil, fmt.Errorf("step %s: event or value parameter is required", step.ID)
}

// writerFor returns or creates the writer for a topic
func (e *Executor) writerFor(topic string) *kafka.Writer {
	e.mu.RLock()
	writer, ok := e.writers[topic]
	e.mu.RUnlock()
	if ok {
		return writer
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if writer, ok := e.writers[topic]; ok {
		return writer
	}

	// Probe topics are created on first publish so test environments
	// need no broker-side provisioning.
	writer = &kafka.Writer{
		Addr:                   kafka.TCP(e.config.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           e.config.BatchTimeout,
		WriteTimeout:           e.config.WriteTimeout,
		RequiredAcks:           kafka.RequiredAcks(e.config.RequiredAcks),
		AllowAutoTopicCreation: true,
	}
	e.writers[topic] = writer
	return writer
}

// CanExecute reports whether this executor understands the step
func (e *Executor) CanExecute(step executor.TestStep) bool {
	return e.GetConfig().SupportsType(step.Type)
}

// HealthCheck verifies a broker connection can be established
func (e *Executor) HealthCheck(ctx context.Context) error {
	if len(e.config.Brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}

	dialer := &kafka.Dialer{Timeout: e.config.DialTimeout, DualStack: true}
	conn, err := dialer.DialContext(ctx, "tcp", e.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("broker %s not reachable: %w", e.config.Brokers[0], err)
	}
	return conn.Close()
}

// GetConfig returns executor configuration and capabilities
func (e *Executor) GetConfig() executor.ExecutorConfig {
	return executor.ExecutorConfig{
		Name:           ExecutorName,
		Version:        ExecutorVersion,
		SupportedTypes: []string{TypePublish, TypeConsume},
		DefaultTimeout: 30 * time.Second,
	}
}

// Close closes the cached topic writers
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var lastErr error
	for _, writer := range e.writers {
		if err := writer.Close(); err != nil {
			lastErr = err
		}
	}
	e.writers = make(map[string]*kafka.Writer)
	return lastErr
}

func stringValue(values map[string]interface{}, key string) string {
	if values == nil {
		return ""
	}
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}
