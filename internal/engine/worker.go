package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/queue"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/resilience"
)

// Worker pulls test run jobs from the queue, drives them through the engine,
// and persists the outcome
type Worker struct {
	id      string
	service *Service

	mu            sync.Mutex
	jobsProcessed int64
	jobsFailed    int64
	lastJobAt     *time.Time
	startTime     time.Time
}

// NewWorker creates a new worker
func NewWorker(id string, service *Service) *Worker {
	return &Worker{
		id:        id,
		service:   service,
		startTime: time.Now(),
	}
}

// Start begins the worker's job processing loop
func (w *Worker) Start(ctx context.Context, stopCh <-chan struct{}) {
	w.service.logger.Info("Worker started", "worker", w.id)
	defer w.service.logger.Info("Worker stopped", "worker", w.id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
			job, err := w.service.queue.Dequeue(ctx, w.id)
			if err != nil {
				if !errors.IsType(err, errors.ErrorTypeNotFound) {
					w.service.logger.Warn("Dequeue failed", "worker", w.id, "error", err)
				}
				time.Sleep(1 * time.Second)
				continue
			}
			w.processJob(ctx, job)
		}
	}
}

// GetStats returns the worker's processing statistics
func (w *Worker) GetStats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return WorkerStats{
		WorkerID:      w.id,
		Status:        "running",
		JobsProcessed: w.jobsProcessed,
		JobsFailed:    w.jobsFailed,
		LastJobAt:     w.lastJobAt,
		Uptime:        time.Since(w.startTime),
	}
}

// processJob executes a single dequeued job end to end
func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	now := time.Now()
	w.mu.Lock()
	w.lastJobAt = &now
	w.mu.Unlock()

	if job.Type != JobTypeTestRun {
		w.failJob(ctx, job, fmt.Sprintf("unsupported job type %q", job.Type))
		return
	}

	payload, err := parseRunPayload(job)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("invalid job payload: %v", err))
		return
	}

	record, err := w.service.store.GetTestRun(ctx, payload.RunID)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("failed to load test run %s: %v", payload.RunID, err))
		return
	}

	// A run cancelled while still queued is acknowledged without executing
	if record.Status == store.RunStatusCancelled {
		w.service.logger.Info("Skipping cancelled run", "worker", w.id, "run_id", record.ID.String())
		w.completeJob(ctx, job, map[string]interface{}{
			"run_id": record.ID.String(),
			"status": store.RunStatusCancelled,
		})
		return
	}

	var plan TestExecutionPlan
	if err := json.Unmarshal(record.Plan, &plan); err != nil {
		w.failRun(ctx, job, record, fmt.Sprintf("failed to decode stored plan: %v", err))
		return
	}

	plan, err = w.service.openPlan(plan)
	if err != nil {
		w.failRun(ctx, job, record, fmt.Sprintf("failed to open stored plan: %v", err))
		return
	}

	if err := w.service.store.MarkTestRunStarted(ctx, record.ID); err != nil {
		w.failJob(ctx, job, fmt.Sprintf("failed to mark run started: %v", err))
		return
	}

	runCtx := ctx
	if job.Metadata.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Metadata.Timeout)
		defer cancel()
	}

	result, err := w.service.engine.ExecuteTest(runCtx, plan)
	if err != nil {
		w.failRun(ctx, job, record, fmt.Sprintf("execution failed to start: %v", err))
		return
	}

	recovery := w.applyRecovery(ctx, result, &plan, payload.RollbackOnFailure)
	recoveryEvent := w.persistResult(ctx, record, result, &plan, recovery)

	if notifier := w.service.currentNotifier(); notifier != nil {
		notifier.RunFinished(ctx, record, recoveryEvent)
	}

	w.completeJob(ctx, job, map[string]interface{}{
		"run_id":           record.ID.String(),
		"status":           string(result.Status),
		"successful_steps": result.SuccessfulSteps,
		"failed_steps":     result.FailedSteps,
	})
}

// applyRecovery classifies the first failed step and hands the failure to
// the recovery layer. Runs that passed or were cancelled need no recovery.
func (w *Worker) applyRecovery(ctx context.Context, result *TestResult, plan *TestExecutionPlan, rollbackOnFailure bool) *resilience.RecoveryResult {
	if result.Status != TestStatusFailed && result.Status != TestStatusPartialSuccess {
		return nil
	}

	failure := classifyRunFailure(result, plan)
	if failure == nil {
		return nil
	}

	// Rollback compensates side effects of the whole run, so a partial
	// success keeps its completed work and only full failures roll back.
	performRollback := rollbackOnFailure && result.Status == TestStatusFailed

	outcome := w.service.recovery.HandleTestFailure(ctx, result.TestID, failure, performRollback)
	w.service.logger.LogRunEvent(ctx, "run_recovery_applied", result.TestID, result.Environment, map[string]interface{}{
		"failure_type":        string(outcome.FailureType),
		"failure_severity":    outcome.FailureSeverity.String(),
		"degradation_applied": outcome.DegradationApplied,
		"rollback_performed":  outcome.RollbackPerformed,
	})
	return outcome
}

// persistResult writes the terminal run state, its step results, and any
// recovery outcome to the store, returning the recovery event if one was
// recorded. Persistence failures are logged rather than propagated because
// the run itself already finished.
func (w *Worker) persistResult(ctx context.Context, record *store.TestRunRecord, result *TestResult, plan *TestExecutionPlan, recovery *resilience.RecoveryResult) *store.RecoveryEventRecord {
	record.Status = string(result.Status)
	record.SuccessfulSteps = result.SuccessfulSteps
	record.FailedSteps = result.FailedSteps
	record.SkippedSteps = result.SkippedSteps
	record.FailureReason = result.FailureReason
	startedAt := result.StartedAt
	completedAt := result.CompletedAt
	record.StartedAt = &startedAt
	record.CompletedAt = &completedAt
	record.DurationMS = result.Duration.Milliseconds()

	if recovery != nil {
		record.RecoveryApplied = recovery.DegradationApplied
		record.RollbackPerformed = recovery.RollbackPerformed
	}

	if err := w.service.store.FinishTestRun(ctx, record); err != nil {
		w.service.logger.Error("Failed to persist run result",
			"worker", w.id,
			"run_id", record.ID.String(),
			"error", err,
		)
	}

	if steps := buildStepRecords(record.ID, result, plan); len(steps) > 0 {
		if err := w.service.store.CreateStepResults(ctx, steps); err != nil {
			w.service.logger.Error("Failed to persist step results",
				"worker", w.id,
				"run_id", record.ID.String(),
				"error", err,
			)
		}
	}

	if recovery == nil {
		return nil
	}

	event := buildRecoveryEvent(record, recovery)
	if err := w.service.store.CreateRecoveryEvent(ctx, event); err != nil {
		w.service.logger.Error("Failed to persist recovery event",
			"worker", w.id,
			"run_id", record.ID.String(),
			"error", err,
		)
	}
	return event
}

// failRun marks the stored run failed and fails the job with the same reason
func (w *Worker) failRun(ctx context.Context, job *queue.Job, record *store.TestRunRecord, errorMsg string) {
	record.Status = store.RunStatusFailed
	record.FailureReason = errorMsg
	now := time.Now()
	record.CompletedAt = &now

	if err := w.service.store.FinishTestRun(ctx, record); err != nil {
		w.service.logger.Error("Failed to persist failed run",
			"worker", w.id,
			"run_id", record.ID.String(),
			"error", err,
		)
	}
	if notifier := w.service.currentNotifier(); notifier != nil {
		notifier.RunFinished(ctx, record, nil)
	}
	w.failJob(ctx, job, errorMsg)
}

// completeJob acknowledges the job as completed
func (w *Worker) completeJob(ctx context.Context, job *queue.Job, fields map[string]interface{}) {
	result := &queue.JobResult{
		JobID:     job.ID,
		Success:   true,
		Result:    fields,
		Timestamp: time.Now(),
	}
	if job.StartedAt != nil {
		result.Duration = time.Since(*job.StartedAt)
	}

	if err := w.service.queue.Complete(ctx, job.ID, result); err != nil {
		w.service.logger.Warn("Failed to mark job completed", "worker", w.id, "job_id", job.ID, "error", err)
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()
}

// failJob marks the job as failed
func (w *Worker) failJob(ctx context.Context, job *queue.Job, errorMsg string) {
	w.service.logger.Error("Job failed", "worker", w.id, "job_id", job.ID, "error", errorMsg)

	if err := w.service.queue.Fail(ctx, job.ID, errorMsg); err != nil {
		w.service.logger.Warn("Failed to mark job failed", "worker", w.id, "job_id", job.ID, "error", err)
	}

	w.mu.Lock()
	w.jobsFailed++
	w.mu.Unlock()
}

// runPayload is the decoded payload of a test run job
type runPayload struct {
	RunID             uuid.UUID
	TestID            string
	RollbackOnFailure bool
}

func parseRunPayload(job *queue.Job) (*runPayload, error) {
	runIDStr, ok := job.Payload["run_id"].(string)
	if !ok {
		return nil, errors.NewValidationError("run_id not found in job payload")
	}
	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return nil, errors.NewValidationError("invalid run_id format")
	}

	payload := &runPayload{RunID: runID}
	if testID, ok := job.Payload["test_id"].(string); ok {
		payload.TestID = testID
	}
	if rollback, ok := job.Payload["rollback_on_failure"].(bool); ok {
		payload.RollbackOnFailure = rollback
	}
	return payload, nil
}

// classifyRunFailure builds a classified failure from the first failed step.
// The error text decides the failure type and the run verdict decides how
// severe it is.
func classifyRunFailure(result *TestResult, plan *TestExecutionPlan) *errors.TestFailure {
	var failed *executor.StepResult
	for i := range result.StepResults {
		if result.StepResults[i].Status == executor.StepStatusFailed {
			failed = &result.StepResults[i]
			break
		}
	}
	if failed == nil {
		return nil
	}

	serviceID := ""
	for _, step := range plan.Steps {
		if step.ID == failed.StepID {
			serviceID = step.ServiceID
			break
		}
	}

	msg := strings.ToLower(failed.Error)
	var failure *errors.TestFailure
	switch {
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		failure = errors.NewTimeoutFailure(serviceID, failed.Error)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dial"):
		failure = errors.NewConnectionFailure(serviceID, failed.Error)
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		failure = errors.NewAuthenticationFailure(serviceID, failed.Error)
	case strings.Contains(msg, "expected") || strings.Contains(msg, "assertion"):
		failure = errors.NewBusinessLogicFailure(serviceID, failed.Error)
	case strings.Contains(msg, "integrity") || strings.Contains(msg, "corrupt") || strings.Contains(msg, "malformed"):
		failure = errors.NewDataFailure(serviceID, failed.Error)
	default:
		failure = errors.NewServiceFailure(serviceID, failed.Error)
	}

	failure = failure.WithStepID(failed.StepID)
	if result.Status == TestStatusFailed {
		failure = failure.WithSeverity(errors.SeverityHigh)
	}
	return failure
}

func buildStepRecords(runID uuid.UUID, result *TestResult, plan *TestExecutionPlan) []*store.StepResultRecord {
	stepsByID := make(map[string]executor.TestStep, len(plan.Steps))
	for _, step := range plan.Steps {
		stepsByID[step.ID] = step
	}

	records := make([]*store.StepResultRecord, 0, len(result.StepResults))
	for i, stepResult := range result.StepResults {
		record := &store.StepResultRecord{
			RunID:        runID,
			StepID:       stepResult.StepID,
			StepIndex:    i,
			Status:       string(stepResult.Status),
			Attempts:     stepResult.Attempts,
			ErrorMessage: stepResult.Error,
			StartedAt:    stepResult.StartedAt,
			CompletedAt:  stepResult.CompletedAt,
			DurationMS:   stepResult.Duration.Milliseconds(),
		}
		if step, ok := stepsByID[stepResult.StepID]; ok {
			record.StepName = step.Name
			record.StepType = step.Type
			record.ServiceID = step.ServiceID
		}
		if len(stepResult.Output) > 0 {
			if output, err := json.Marshal(stepResult.Output); err == nil {
				record.Output = output
			}
		}
		records = append(records, record)
	}
	return records
}

func buildRecoveryEvent(record *store.TestRunRecord, recovery *resilience.RecoveryResult) *store.RecoveryEventRecord {
	event := &store.RecoveryEventRecord{
		RunID:              record.ID,
		TestID:             record.TestID,
		FailureType:        string(recovery.FailureType),
		FailureSeverity:    recovery.FailureSeverity.String(),
		DegradationApplied: recovery.DegradationApplied,
		DegradationLevel:   recovery.DegradationLevel.String(),
		RollbackPerformed:  recovery.RollbackPerformed,
	}
	if recovery.Rollback != nil {
		succeeded := recovery.Rollback.IsSuccessful()
		event.RollbackSucceeded = &succeeded
	}
	if details, err := json.Marshal(recovery); err == nil {
		event.Details = details
	}
	return event
}
