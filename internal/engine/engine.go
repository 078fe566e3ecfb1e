package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
)

// Engine executes test plans. Steps run strictly in order within one run;
// multiple runs proceed in parallel, each on its own goroutine. Control
// calls operate on the run's ExecutionContext by test ID.
type Engine struct {
	config Config

	mu        sync.RWMutex
	executors []executor.StepExecutor
	running   map[string]*ExecutionContext
	finished  map[string]*TestResult

	logger *logging.Logger
}

// Config contains engine execution defaults applied to steps that do not
// carry their own values
type Config struct {
	DefaultStepTimeout time.Duration `json:"default_step_timeout"`
	DefaultMaxAttempts int           `json:"default_max_attempts"`
	DefaultRetryDelay  time.Duration `json:"default_retry_delay"`
	ResultRetention    time.Duration `json:"result_retention"`
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		DefaultStepTimeout: 30 * time.Second,
		DefaultMaxAttempts: 3,
		DefaultRetryDelay:  time.Second,
		ResultRetention:    time.Hour,
	}
}

// NewEngine creates a new test execution engine
func NewEngine(config Config) *Engine {
	if config.DefaultStepTimeout <= 0 {
		config.DefaultStepTimeout = 30 * time.Second
	}
	if config.DefaultMaxAttempts <= 0 {
		config.DefaultMaxAttempts = 3
	}
	if config.DefaultRetryDelay <= 0 {
		config.DefaultRetryDelay = time.Second
	}
	if config.ResultRetention <= 0 {
		config.ResultRetention = time.Hour
	}

	return &Engine{
		config:   config,
		running:  make(map[string]*ExecutionContext),
		finished: make(map[string]*TestResult),
		logger:   logging.GetLogger(),
	}
}

// RegisterExecutor adds a step executor. Steps are dispatched to the first
// registered executor whose CanExecute accepts them, in registration order.
func (e *Engine) RegisterExecutor(ex executor.StepExecutor) error {
	if ex == nil {
		return errors.NewValidationError("executor cannot be nil")
	}
	name := ex.GetConfig().Name
	if name == "" {
		return errors.NewValidationError("executor name cannot be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.executors {
		if existing.GetConfig().Name == name {
			return errors.NewValidationError(fmt.Sprintf("executor %s is already registered", name))
		}
	}

	e.executors = append(e.executors, ex)
	return nil
}

// Executors returns the names of registered executors in registration order
func (e *Engine) Executors() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, len(e.executors))
	for i, ex := range e.executors {
		names[i] = ex.GetConfig().Name
	}
	return names
}

// HealthCheckExecutors checks every registered executor and returns the
// last error encountered
func (e *Engine) HealthCheckExecutors(ctx context.Context) error {
	e.mu.RLock()
	executors := make([]executor.StepExecutor, len(e.executors))
	copy(executors, e.executors)
	e.mu.RUnlock()

	var lastErr error
	for _, ex := range executors {
		if err := ex.HealthCheck(ctx); err != nil {
			e.logger.Warn("Executor health check failed", "executor", ex.GetConfig().Name, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// StartTest begins executing a plan asynchronously and returns the run's
// ExecutionContext as the handle for Wait and control calls. ctx bounds the
// whole run; cancelling it cancels the run.
func (e *Engine) StartTest(ctx context.Context, plan TestExecutionPlan) (*ExecutionContext, error) {
	if err := validatePlan(&plan); err != nil {
		return nil, err
	}
	if plan.CorrelationID == "" {
		plan.CorrelationID = logging.NewCorrelationID()
	}

	ec := newExecutionContext(ctx, plan)

	e.mu.Lock()
	if _, exists := e.running[plan.TestID]; exists {
		e.mu.Unlock()
		ec.cancel()
		return nil, errors.NewConflictError(fmt.Sprintf("test %s is already running", plan.TestID))
	}
	// A re-run replaces the retained result of the previous run
	delete(e.finished, plan.TestID)
	e.running[plan.TestID] = ec
	e.mu.Unlock()

	go e.run(ec)
	return ec, nil
}

// ExecuteTest runs a plan to completion and returns its terminal result.
// Cancellation still yields a result with status CANCELLED.
func (e *Engine) ExecuteTest(ctx context.Context, plan TestExecutionPlan) (*TestResult, error) {
	ec, err := e.StartTest(ctx, plan)
	if err != nil {
		return nil, err
	}
	return ec.Wait(context.Background())
}

// GetExecutionStatus reports the status of a run, live or retained.
// Unknown IDs yield NOT_FOUND.
func (e *Engine) GetExecutionStatus(testID string) TestStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if ec, ok := e.running[testID]; ok {
		return ec.Status()
	}
	if result, ok := e.finished[testID]; ok {
		return result.Status
	}
	return TestStatusNotFound
}

// GetExecutionInfo returns the status snapshot for a run, live or retained
func (e *Engine) GetExecutionInfo(testID string) (RunStatusInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if ec, ok := e.running[testID]; ok {
		return ec.snapshot(), true
	}
	if result, ok := e.finished[testID]; ok {
		started := result.StartedAt
		completed := result.CompletedAt
		info := RunStatusInfo{
			TestID:         testID,
			Status:         result.Status,
			StartedAt:      &started,
			CompletedAt:    &completed,
			CompletedSteps: len(result.StepResults),
			TotalSteps:     result.TotalSteps,
			FailureReason:  result.FailureReason,
		}
		if result.TotalSteps > 0 {
			info.Progress = float64(len(result.StepResults)) / float64(result.TotalSteps) * 100
		}
		return info, true
	}
	return RunStatusInfo{TestID: testID, Status: TestStatusNotFound}, false
}

// GetExecutionResult returns the retained result of a finished run
func (e *Engine) GetExecutionResult(testID string) (*TestResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result, ok := e.finished[testID]
	return result, ok
}

// PauseExecution requests a run to hold before its next step
func (e *Engine) PauseExecution(testID string) error {
	ec, err := e.activeContext(testID)
	if err != nil {
		return err
	}
	if err := ec.Pause(); err != nil {
		return err
	}
	e.logger.LogRunEvent(context.Background(), "run_paused", testID, ec.Plan.Environment, nil)
	return nil
}

// ResumeExecution releases a paused run
func (e *Engine) ResumeExecution(testID string) error {
	ec, err := e.activeContext(testID)
	if err != nil {
		return err
	}
	if err := ec.Resume(); err != nil {
		return err
	}
	e.logger.LogRunEvent(context.Background(), "run_resumed", testID, ec.Plan.Environment, nil)
	return nil
}

// CancelExecution aborts a run. The in-flight step attempt is interrupted
// through the run context; the loop exits at the next step boundary.
func (e *Engine) CancelExecution(testID string) error {
	ec, err := e.activeContext(testID)
	if err != nil {
		return err
	}
	ec.Cancel()
	e.logger.LogRunEvent(context.Background(), "run_cancel_requested", testID, ec.Plan.Environment, nil)
	return nil
}

// ActiveRuns returns the IDs of currently executing runs, sorted
func (e *Engine) ActiveRuns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats is a snapshot of engine-level state
type Stats struct {
	ActiveRuns      int      `json:"active_runs"`
	RetainedResults int      `json:"retained_results"`
	Executors       []string `json:"executors"`
}

// GetStats returns engine statistics
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, len(e.executors))
	for i, ex := range e.executors {
		names[i] = ex.GetConfig().Name
	}
	return Stats{
		ActiveRuns:      len(e.running),
		RetainedResults: len(e.finished),
		Executors:       names,
	}
}

// PruneResults drops retained results older than the retention window and
// returns how many were removed
func (e *Engine) PruneResults() int {
	cutoff := time.Now().Add(-e.config.ResultRetention)

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, result := range e.finished {
		if result.CompletedAt.Before(cutoff) {
			delete(e.finished, id)
			removed++
		}
	}
	return removed
}

func (e *Engine) activeContext(testID string) (*ExecutionContext, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if ec, ok := e.running[testID]; ok {
		return ec, nil
	}
	if _, ok := e.finished[testID]; ok {
		return nil, errors.NewValidationError("test run already finished")
	}
	return nil, errors.NewNotFoundError("test run")
}

func validatePlan(plan *TestExecutionPlan) error {
	if plan.TestID == "" {
		return errors.NewValidationError("test ID is required")
	}
	if len(plan.Steps) == 0 {
		return errors.NewValidationError("at least one step is required")
	}
	for i, step := range plan.Steps {
		if step.ID == "" {
			return errors.NewValidationError(fmt.Sprintf("step %d is missing an ID", i))
		}
		if step.Type == "" {
			return errors.NewValidationError(fmt.Sprintf("step %s is missing a type", step.ID))
		}
	}
	return nil
}

// run drives one test to completion on its own goroutine
func (e *Engine) run(ec *ExecutionContext) {
	plan := ec.Plan
	ctx := logging.WithCorrelationID(ec.runCtx, plan.CorrelationID)

	result := &TestResult{
		TestID:        plan.TestID,
		Name:          plan.Name,
		Environment:   plan.Environment,
		CorrelationID: plan.CorrelationID,
		Status:        TestStatusRunning,
		StartedAt:     ec.startedAt,
		TotalSteps:    len(plan.Steps),
	}

	e.logger.LogRunEvent(ctx, "run_started", plan.TestID, plan.Environment, map[string]interface{}{
		"steps": len(plan.Steps),
	})

	for _, step := range plan.Steps {
		// Cancel and pause are honored only at step boundaries
		if err := ec.awaitResume(); err != nil {
			result.Status = TestStatusCancelled
			break
		}

		step = e.applyDefaults(step, plan.Config)
		ec.beginStep(step)
		stepResult := e.executeStep(ctx, ec, step)
		ec.finishStep()

		result.StepResults = append(result.StepResults, *stepResult)

		switch stepResult.Status {
		case executor.StepStatusPassed:
			result.SuccessfulSteps++
		case executor.StepStatusCancelled:
			result.Status = TestStatusCancelled
		default:
			result.FailedSteps++
			if step.StopOnFailure || plan.Config.FailFast {
				result.Status = TestStatusFailed
				result.FailureReason = fmt.Sprintf("step %s (%s) failed: %s", step.ID, step.Name, stepResult.Error)
			}
		}

		if result.Status == TestStatusCancelled || result.Status == TestStatusFailed {
			break
		}
	}

	if result.Status == TestStatusRunning {
		switch {
		case result.FailedSteps == 0:
			result.Status = TestStatusPassed
		case result.SuccessfulSteps > 0:
			result.Status = TestStatusPartialSuccess
		default:
			result.Status = TestStatusFailed
		}
		if result.Status != TestStatusPassed {
			result.FailureReason = fmt.Sprintf("%d of %d steps failed", result.FailedSteps, result.TotalSteps)
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.SkippedSteps = result.TotalSteps - len(result.StepResults)

	e.logger.LogRunEvent(ctx, "run_completed", plan.TestID, plan.Environment, map[string]interface{}{
		"status":      string(result.Status),
		"successful":  result.SuccessfulSteps,
		"failed":      result.FailedSteps,
		"skipped":     result.SkippedSteps,
		"duration_ms": result.Duration.Milliseconds(),
	})

	e.retire(ec, result)
}

// retire moves a run from the active registry to the retained results
func (e *Engine) retire(ec *ExecutionContext, result *TestResult) {
	e.mu.Lock()
	delete(e.running, ec.TestID)
	e.finished[ec.TestID] = result
	e.mu.Unlock()

	ec.complete(result)
}

func (e *Engine) applyDefaults(step executor.TestStep, cfg TestConfiguration) executor.TestStep {
	if step.Timeout <= 0 {
		step.Timeout = cfg.DefaultStepTimeout
	}
	if step.Timeout <= 0 {
		step.Timeout = e.config.DefaultStepTimeout
	}
	if step.MaxAttempts <= 0 {
		step.MaxAttempts = cfg.DefaultMaxAttempts
	}
	if step.MaxAttempts <= 0 {
		step.MaxAttempts = e.config.DefaultMaxAttempts
	}
	if step.RetryDelay <= 0 {
		step.RetryDelay = cfg.DefaultRetryDelay
	}
	if step.RetryDelay <= 0 {
		step.RetryDelay = e.config.DefaultRetryDelay
	}
	return step
}

// executeStep runs one step through its fixed-delay attempt loop. The
// returned result carries the final attempt's outcome; Attempts is the
// number of attempts actually spent.
func (e *Engine) executeStep(ctx context.Context, ec *ExecutionContext, step executor.TestStep) *executor.StepResult {
	started := time.Now()

	exec := e.executorFor(step)
	if exec == nil {
		e.logger.LogStepEvent(ctx, "no_executor", ec.TestID, step.ID, step.Type, nil)
		return &executor.StepResult{
			StepID:      step.ID,
			Status:      executor.StepStatusFailed,
			Error:       fmt.Sprintf("no executor found for step type %q", step.Type),
			StartedAt:   started,
			CompletedAt: time.Now(),
		}
	}

	var last *executor.StepResult
	for attempt := 1; attempt <= step.MaxAttempts; attempt++ {
		last = e.runAttempt(ctx, step, exec, ec.Test)
		last.Attempts = attempt

		if last.Status == executor.StepStatusPassed || last.Status == executor.StepStatusCancelled {
			break
		}

		e.logger.LogStepEvent(ctx, "attempt_failed", ec.TestID, step.ID, step.Type, map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": step.MaxAttempts,
			"error":        last.Error,
		})

		if attempt < step.MaxAttempts {
			select {
			case <-time.After(step.RetryDelay):
			case <-ctx.Done():
				last.Status = executor.StepStatusCancelled
			}
			if last.Status == executor.StepStatusCancelled {
				break
			}
		}
	}

	last.StepID = step.ID
	last.StartedAt = started
	last.CompletedAt = time.Now()
	last.Duration = last.CompletedAt.Sub(started)
	return last
}

type attemptOutcome struct {
	result *executor.StepResult
	err    error
}

// runAttempt executes a single attempt bounded by the step timeout. The
// executor runs on its own goroutine so a stuck executor cannot wedge the
// run loop; cancellation and timeout abandon the attempt.
func (e *Engine) runAttempt(ctx context.Context, step executor.TestStep, exec executor.StepExecutor, testCtx *executor.TestContext) *executor.StepResult {
	attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	ch := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- attemptOutcome{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		res, err := exec.Execute(attemptCtx, step, testCtx)
		ch <- attemptOutcome{result: res, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return &executor.StepResult{
				StepID: step.ID,
				Status: executor.StepStatusFailed,
				Error:  out.err.Error(),
			}
		}
		if out.result == nil {
			return &executor.StepResult{
				StepID: step.ID,
				Status: executor.StepStatusFailed,
				Error:  "executor returned no result",
			}
		}
		return out.result
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return &executor.StepResult{
				StepID: step.ID,
				Status: executor.StepStatusCancelled,
				Error:  "step cancelled",
			}
		}
		return &executor.StepResult{
			StepID: step.ID,
			Status: executor.StepStatusFailed,
			Error:  fmt.Sprintf("step timed out after %s", step.Timeout),
		}
	}
}

func (e *Engine) executorFor(step executor.TestStep) executor.StepExecutor {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ex := range e.executors {
		if ex.CanExecute(step) {
			return ex
		}
	}
	return nil
}
