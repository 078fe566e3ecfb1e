package resthttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
)

const (
	ExecutorName    = "resthttp"
	ExecutorVersion = "1.0.0"
)

// Config contains configuration for the REST executor
type Config struct {
	// Client overrides the HTTP client. The default client carries no
	// timeout of its own; attempt deadlines come from the step context.
	Client           *http.Client
	DefaultTimeout   time.Duration
	MaxResponseBytes int64
	UserAgent        string
}

// DefaultConfig returns the default REST executor configuration
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:   30 * time.Second,
		MaxResponseBytes: 64 * 1024,
		UserAgent:        "IntelliQA-Probe/" + ExecutorVersion,
	}
}

// Executor implements the StepExecutor interface for HTTP probe steps
type Executor struct {
	config Config
	client *http.Client
}

var _ executor.StepExecutor = (*Executor)(nil)

// NewExecutor creates a REST executor with default configuration
func NewExecutor() *Executor {
	return NewExecutorWithConfig(DefaultConfig())
}

// NewExecutorWithConfig creates a REST executor with custom configuration
func NewExecutorWithConfig(config Config) *Executor {
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = DefaultConfig().MaxResponseBytes
	}
	return &Executor{config: config, client: client}
}

// Execute performs one HTTP request against the target service and checks
// the response against the step's expected outcome. Response data is
// recorded into the test context for later steps to consume.
func (e *Executor) Execute(ctx context.Context, step executor.TestStep, testCtx *executor.TestContext) (*executor.StepResult, error) {
	started := time.Now()

	req, err := e.buildRequest(ctx, step, testCtx)
	if err != nil {
		return nil, err
	}

	result := &executor.StepResult{
		StepID:    step.ID,
		StartedAt: started,
	}

	resp, doErr := e.client.Do(req)
	if doErr != nil {
		result.Status = executor.StepStatusFailed
		result.Error = doErr.Error()
	} else {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBytes))
		resp.Body.Close()
		if readErr != nil {
			result.Status = executor.StepStatusFailed
			result.Error = fmt.Sprintf("read response from %s: %v", req.URL, readErr)
		} else {
			e.evaluate(result, step, testCtx, resp, body)
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)

	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	testCtx.RecordInteraction(executor.ServiceInteraction{
		ServiceID: step.ServiceID,
		StepID:    step.ID,
		Operation: req.Method + " " + path,
		Success:   result.Status == executor.StepStatusPassed,
		Duration:  result.Duration,
	})

	return result, nil
}

// evaluate records the response and applies the step's outcome checks
func (e *Executor) evaluate(result *executor.StepResult, step executor.TestStep, testCtx *executor.TestContext, resp *http.Response, body []byte) {
	result.Output = map[string]interface{}{
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body_bytes":   len(body),
	}

	recordResponse(testCtx, step.ID, resp, body)

	if err := checkOutcome(step, resp.StatusCode, body); err != nil {
		result.Status = executor.StepStatusFailed
		result.Error = err.Error()
		return
	}
	result.Status = executor.StepStatusPassed
}

// CanExecute reports whether this executor understands the step
func (e *Executor) CanExecute(step executor.TestStep) bool {
	return e.GetConfig().SupportsType(step.Type)
}

// HealthCheck verifies the executor is operational
func (e *Executor) HealthCheck(ctx context.Context) error {
	if e.client == nil {
		return fmt.Errorf("http client not configured")
	}
	return nil
}

// GetConfig returns executor configuration and capabilities
func (e *Executor) GetConfig() executor.ExecutorConfig {
	return executor.ExecutorConfig{
		Name:           ExecutorName,
		Version:        ExecutorVersion,
		SupportedTypes: []string{"http_request", "http_health_check"},
		DefaultTimeout: e.config.DefaultTimeout,
	}
}
