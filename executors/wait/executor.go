package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
)

const (
	ExecutorName    = "wait"
	ExecutorVersion = "1.0.0"

	DefaultDuration = time.Second
)

// Executor implements the StepExecutor interface for wait steps. A wait
// step sleeps for a fixed duration so state can settle between service
// interactions; because it needs no external services it also serves as
// the smoke-test executor for the execution pipeline.
type Executor struct{}

var _ executor.StepExecutor = (*Executor)(nil)

// NewExecutor creates a wait executor
func NewExecutor() *Executor {
	return &Executor{}
}

// Execute sleeps for the configured duration, honoring cancellation. A
// step timeout shorter than the wait fails the step; run cancellation
// marks it cancelled.
func (e *Executor) Execute(ctx context.Context, step executor.TestStep, testCtx *executor.TestContext) (*executor.StepResult, error) {
	duration, err := waitDuration(step)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result := &executor.StepResult{
		StepID:    step.ID,
		StartedAt: started,
	}

	select {
	case <-time.After(duration):
		result.Status = executor.StepStatusPassed
		result.Output = map[string]interface{}{"waited": duration.String()}
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			result.Status = executor.StepStatusFailed
			result.Error = fmt.Sprintf("wait interrupted: %v", ctx.Err())
		} else {
			result.Status = executor.StepStatusCancelled
			result.Error = ctx.Err().Error()
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)
	return result, nil
}

// waitDuration reads the step duration, accepting either a Go duration
// string or a number of seconds
func waitDuration(step executor.TestStep) (time.Duration, error) {
	raw, ok := step.Parameters["duration"]
	if !ok || raw == nil {
		return DefaultDuration, nil
	}

	switch v := raw.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("step %s: invalid duration %q: %v", step.ID, v, err)
		}
		if d <= 0 {
			return 0, fmt.Errorf("step %s: duration must be positive", step.ID)
		}
		return d, nil
	case float64:
		if v <= 0 {
			return 0, fmt.Errorf("step %s: duration must be positive", step.ID)
		}
		return time.Duration(v * float64(time.Second)), nil
	case int:
		if v <= 0 {
			return 0, fmt.Errorf("step %s: duration must be positive", step.ID)
		}
		return time.Duration(v) * time.Second, nil
	default:
		return 0, fmt.Errorf("step %s: unsupported duration type %T", step.ID, raw)
	}
}

// CanExecute reports whether this executor understands the step
func (e *Executor) CanExecute(step executor.TestStep) bool {
	return e.GetConfig().SupportsType(step.Type)
}

// HealthCheck verifies the executor is operational
func (e *Executor) HealthCheck(ctx context.Context) error {
	return nil
}

// GetConfig returns executor configuration and capabilities
func (e *Executor) GetConfig() executor.ExecutorConfig {
	return executor.ExecutorConfig{
		Name:           ExecutorName,
		Version:        ExecutorVersion,
		SupportedTypes: []string{"wait"},
		DefaultTimeout: time.Minute,
	}
}
