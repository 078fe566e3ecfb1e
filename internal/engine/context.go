package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
)

// ExecutionContext tracks one in-flight test run. Control calls (pause,
// resume, cancel) arrive from other goroutines; the run loop consults it
// only at step boundaries, so cancellation is cooperative.
type ExecutionContext struct {
	TestID string
	Plan   TestExecutionPlan
	Test   *executor.TestContext

	runCtx context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	status      TestStatus
	paused      bool
	resumeCh    chan struct{}
	currentStep string
	completed   int
	result      *TestResult

	startedAt time.Time
	done      chan struct{}
}

func newExecutionContext(parent context.Context, plan TestExecutionPlan) *ExecutionContext {
	runCtx, cancel := context.WithCancel(parent)
	return &ExecutionContext{
		TestID:    plan.TestID,
		Plan:      plan,
		Test:      executor.NewTestContext(plan.TestID, plan.Environment, plan.ServiceEndpoints),
		runCtx:    runCtx,
		cancel:    cancel,
		status:    TestStatusRunning,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Status returns the current run status
func (ec *ExecutionContext) Status() TestStatus {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.status
}

// Pause requests the run to hold before its next step. Pausing an already
// paused run is a no-op.
func (ec *ExecutionContext) Pause() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.status.IsTerminal() {
		return errors.NewValidationError("test run already finished")
	}
	if ec.paused {
		return nil
	}

	ec.paused = true
	ec.resumeCh = make(chan struct{})
	ec.status = TestStatusPaused
	return nil
}

// Resume releases a paused run. Resuming a run that is not paused is a no-op.
func (ec *ExecutionContext) Resume() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.status.IsTerminal() {
		return errors.NewValidationError("test run already finished")
	}
	if !ec.paused {
		return nil
	}

	ec.paused = false
	ec.status = TestStatusRunning
	close(ec.resumeCh)
	ec.resumeCh = nil
	return nil
}

// Cancel aborts the run. The run loop observes it at the next step boundary;
// an in-flight step attempt is interrupted through the run context.
func (ec *ExecutionContext) Cancel() {
	ec.cancel()
}

// awaitResume blocks while the run is paused and reports cancellation.
// A nil return means the run may proceed with the next step.
func (ec *ExecutionContext) awaitResume() error {
	for {
		ec.mu.Lock()
		if !ec.paused {
			ec.mu.Unlock()
			return ec.runCtx.Err()
		}
		ch := ec.resumeCh
		ec.mu.Unlock()

		select {
		case <-ch:
		case <-ec.runCtx.Done():
			return ec.runCtx.Err()
		}
	}
}

func (ec *ExecutionContext) beginStep(step executor.TestStep) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.currentStep = step.ID
}

func (ec *ExecutionContext) finishStep() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.completed++
	ec.currentStep = ""
}

// complete records the terminal result and wakes anyone paused or waiting
func (ec *ExecutionContext) complete(result *TestResult) {
	ec.mu.Lock()
	ec.status = result.Status
	ec.result = result
	ec.paused = false
	if ec.resumeCh != nil {
		close(ec.resumeCh)
		ec.resumeCh = nil
	}
	ec.mu.Unlock()

	ec.cancel()
	close(ec.done)
}

// Wait blocks until the run finishes and returns its result
func (ec *ExecutionContext) Wait(ctx context.Context) (*TestResult, error) {
	select {
	case <-ec.done:
		return ec.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// snapshot captures the run status for external observers
func (ec *ExecutionContext) snapshot() RunStatusInfo {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	started := ec.startedAt
	info := RunStatusInfo{
		TestID:         ec.TestID,
		Status:         ec.status,
		StartedAt:      &started,
		CurrentStep:    ec.currentStep,
		CompletedSteps: ec.completed,
		TotalSteps:     len(ec.Plan.Steps),
	}
	if info.TotalSteps > 0 {
		info.Progress = float64(ec.completed) / float64(info.TotalSteps) * 100
	}
	if ec.result != nil {
		completed := ec.result.CompletedAt
		info.CompletedAt = &completed
		info.FailureReason = ec.result.FailureReason
	}
	return info
}
