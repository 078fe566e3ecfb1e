package executor

import (
	"context"
	"time"
)

// StepExecutor defines the interface that all test step executors must implement
type StepExecutor interface {
	// Execute runs a single test step against the target service
	Execute(ctx context.Context, step TestStep, testCtx *TestContext) (*StepResult, error)

	// CanExecute reports whether this executor understands the step
	CanExecute(step TestStep) bool

	// HealthCheck verifies the executor is operational
	HealthCheck(ctx context.Context) error

	// GetConfig returns executor configuration and capabilities
	GetConfig() ExecutorConfig
}

// TestStep describes one interaction with a target service
type TestStep struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Type            string                 `json:"type"`
	ServiceID       string                 `json:"service_id"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	ExpectedOutcome map[string]interface{} `json:"expected_outcome,omitempty"`
	Timeout         time.Duration          `json:"timeout"`
	MaxAttempts     int                    `json:"max_attempts"`
	RetryDelay      time.Duration          `json:"retry_delay"`
	StopOnFailure   bool                   `json:"stop_on_failure,omitempty"`
}

// StepResult contains the outcome of executing a test step
type StepResult struct {
	StepID      string                 `json:"step_id"`
	Status      StepStatus             `json:"status"`
	Attempts    int                    `json:"attempts"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Duration    time.Duration          `json:"duration"`
}

// StepStatus represents the status of a step execution
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusPassed    StepStatus = "passed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusCancelled StepStatus = "cancelled"
)

// ExecutorConfig contains configuration and capabilities of an executor
type ExecutorConfig struct {
	Name           string        `json:"name"`
	Version        string        `json:"version"`
	SupportedTypes []string      `json:"supported_types"`
	DefaultTimeout time.Duration `json:"default_timeout"`
}

// SupportsType reports whether the executor handles the given step type
func (c ExecutorConfig) SupportsType(stepType string) bool {
	for _, t := range c.SupportedTypes {
		if t == stepType {
			return true
		}
	}
	return false
}
