package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/queue"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/resilience"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/security"
)

// JobTypeTestRun is the queue job type for submitted test executions.
const JobTypeTestRun = "test_run"

// ExecutionService defines the interface for queued test execution
type ExecutionService interface {
	// SubmitTest validates a plan, persists a queued run record, and
	// enqueues it for a worker to pick up
	SubmitTest(ctx context.Context, req *SubmitRequest) (*store.TestRunRecord, error)

	// GetRun retrieves a stored run by its record ID
	GetRun(ctx context.Context, runID uuid.UUID) (*store.TestRunRecord, error)

	// GetRunStatus reports live or stored progress for a run
	GetRunStatus(ctx context.Context, runID uuid.UUID) (*RunStatusInfo, error)

	// GetRunSteps retrieves the persisted step results for a run
	GetRunSteps(ctx context.Context, runID uuid.UUID) ([]*store.StepResultRecord, error)

	// GetRunRecovery retrieves the recovery events recorded for a run
	GetRunRecovery(ctx context.Context, runID uuid.UUID) ([]*store.RecoveryEventRecord, error)

	// ListRuns lists stored runs with filtering and pagination
	ListRuns(ctx context.Context, filter *store.RunFilter, pagination *store.Pagination) ([]*store.TestRunRecord, int64, error)

	// GetRunSummary aggregates stored run counts, optionally per environment
	GetRunSummary(ctx context.Context, environment string) (*store.RunSummary, error)

	// PauseRun pauses an in-flight run at its next step boundary
	PauseRun(ctx context.Context, testID string) error

	// ResumeRun resumes a paused run
	ResumeRun(ctx context.Context, testID string) error

	// CancelRun cancels an in-flight or still-queued run
	CancelRun(ctx context.Context, testID string) error

	// GetServiceStats returns service, queue, and worker statistics
	GetServiceStats(ctx context.Context) (*ServiceStats, error)

	// Health checks service health
	Health(ctx context.Context) error

	// Start starts the service workers
	Start(ctx context.Context) error

	// Stop stops the service workers
	Stop(ctx context.Context) error
}

// Ensure Service implements ExecutionService
var _ ExecutionService = (*Service)(nil)

// Notifier receives terminal run outcomes for delivery outside the engine.
// The recovery event is nil when the run needed no recovery. Implementations
// must not block; workers call this inline after persisting a run.
type Notifier interface {
	RunFinished(ctx context.Context, record *store.TestRunRecord, recovery *store.RecoveryEventRecord)
}

// SubmitRequest describes a test submitted for queued execution
type SubmitRequest struct {
	Plan              TestExecutionPlan `json:"plan"`
	Priority          int               `json:"priority"`
	RollbackOnFailure bool              `json:"rollback_on_failure"`
	Tags              []string          `json:"tags,omitempty"`
}

// ServiceConfig contains configuration for the execution service
type ServiceConfig struct {
	MaxConcurrentRuns   int           `json:"max_concurrent_runs"`
	RunTimeout          time.Duration `json:"run_timeout"`
	WorkerCount         int           `json:"worker_count"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	CleanupInterval     time.Duration `json:"cleanup_interval"`
	StoreRetention      time.Duration `json:"store_retention"`
}

// DefaultServiceConfig returns the default service configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxConcurrentRuns:   100,
		RunTimeout:          10 * time.Minute,
		WorkerCount:         5,
		HealthCheckInterval: 30 * time.Second,
		CleanupInterval:     5 * time.Minute,
		StoreRetention:      7 * 24 * time.Hour,
	}
}

// Service coordinates queued test intake: submissions are persisted and
// enqueued, workers execute them through the engine, and results flow back
// into the store together with any recovery outcome.
type Service struct {
	store    store.Store
	queue    queue.QueueInterface
	engine   *Engine
	recovery *resilience.ErrorHandlingService
	config   *ServiceConfig
	logger   *logging.Logger

	running   bool
	notifier  Notifier
	cipher    *security.EncryptionService
	workers   []*Worker
	workerWg  sync.WaitGroup
	stopCh    chan struct{}
	startedAt time.Time
	mu        sync.RWMutex
}

// NewService creates a new execution service
func NewService(st store.Store, q queue.QueueInterface, eng *Engine, recovery *resilience.ErrorHandlingService, config *ServiceConfig) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if recovery == nil {
		recovery = resilience.NewErrorHandlingService(resilience.DefaultErrorHandlingConfig(), nil, nil)
	}

	return &Service{
		store:    st,
		queue:    q,
		engine:   eng,
		recovery: recovery,
		config:   config,
		logger:   logging.GetLogger(),
	}
}

// Engine returns the embedded execution engine
func (s *Service) Engine() *Engine {
	return s.engine
}

// SetNotifier registers a notifier for terminal run outcomes. Passing nil
// disables notifications.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

func (s *Service) currentNotifier() Notifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notifier
}

// SetPlanCipher registers the cipher applied to sensitive step parameters
// before a plan is persisted. Passing nil stores plans in the clear. The API
// and engine processes must share the same key or workers cannot open
// submitted plans.
func (s *Service) SetPlanCipher(cipher *security.EncryptionService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cipher = cipher
}

func (s *Service) currentCipher() *security.EncryptionService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cipher
}

// sealPlan returns a copy of the plan with sensitive step parameters
// encrypted for persistence. The caller's plan is left untouched.
func (s *Service) sealPlan(plan TestExecutionPlan) (TestExecutionPlan, error) {
	return s.transformPlan(plan, (*security.EncryptionService).EncryptSensitiveFields)
}

// openPlan reverses sealPlan on a plan loaded from the store
func (s *Service) openPlan(plan TestExecutionPlan) (TestExecutionPlan, error) {
	return s.transformPlan(plan, (*security.EncryptionService).DecryptSensitiveFields)
}

func (s *Service) transformPlan(plan TestExecutionPlan, transform func(*security.EncryptionService, map[string]interface{}) (map[string]interface{}, error)) (TestExecutionPlan, error) {
	cipher := s.currentCipher()
	if cipher == nil {
		return plan, nil
	}

	steps := make([]executor.TestStep, len(plan.Steps))
	copy(steps, plan.Steps)
	for i := range steps {
		params, err := transform(cipher, steps[i].Parameters)
		if err != nil {
			return plan, errors.NewInternalError(fmt.Sprintf("step %s parameters", steps[i].ID)).WithCause(err)
		}
		steps[i].Parameters = params
	}
	plan.Steps = steps
	return plan, nil
}

// Start launches the worker pool and the background maintenance loops
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.NewConflictError("execution service is already running")
	}

	stopCh := make(chan struct{})
	s.stopCh = stopCh

	s.workers = make([]*Worker, s.config.WorkerCount)
	for i := 0; i < s.config.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), s)
		s.workers[i] = worker

		s.workerWg.Add(1)
		go func(w *Worker) {
			defer s.workerWg.Done()
			w.Start(ctx, stopCh)
		}(worker)
	}

	s.workerWg.Add(1)
	go func() {
		defer s.workerWg.Done()
		s.healthCheckLoop(ctx, stopCh)
	}()

	s.workerWg.Add(1)
	go func() {
		defer s.workerWg.Done()
		s.cleanupLoop(ctx, stopCh)
	}()

	s.running = true
	s.startedAt = time.Now()

	s.logger.Info("Execution service started", "workers", s.config.WorkerCount)
	return nil
}

// Stop signals the workers to finish and waits for them to drain
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		return errors.NewInternalError("timeout waiting for workers to stop")
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("Execution service stopped")
	return nil
}

// SubmitTest validates the plan, persists a queued run record, and enqueues
// a job for the worker pool. The record is removed again if the enqueue
// fails, so the store never holds runs no worker will ever pick up.
func (s *Service) SubmitTest(ctx context.Context, req *SubmitRequest) (*store.TestRunRecord, error) {
	if req == nil {
		return nil, errors.NewValidationError("submit request is required")
	}
	if err := validatePlan(&req.Plan); err != nil {
		return nil, err
	}
	if req.Plan.CorrelationID == "" {
		req.Plan.CorrelationID = logging.NewCorrelationID()
	}

	if active := s.engine.GetStats().ActiveRuns; active >= s.config.MaxConcurrentRuns {
		return nil, errors.NewRateLimitError(fmt.Sprintf("maximum concurrent runs reached (%d)", s.config.MaxConcurrentRuns))
	}

	sealed, err := s.sealPlan(req.Plan)
	if err != nil {
		return nil, err
	}

	planJSON, err := json.Marshal(sealed)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode test plan").WithCause(err)
	}

	record := &store.TestRunRecord{
		ID:            uuid.New(),
		TestID:        req.Plan.TestID,
		Name:          req.Plan.Name,
		Environment:   req.Plan.Environment,
		CorrelationID: req.Plan.CorrelationID,
		Priority:      req.Priority,
		Status:        store.RunStatusQueued,
		Plan:          planJSON,
		TotalSteps:    len(req.Plan.Steps),
	}

	if err := s.store.CreateTestRun(ctx, record); err != nil {
		return nil, errors.NewInternalError("failed to persist test run").WithCause(err)
	}

	payload := map[string]interface{}{
		"run_id":              record.ID.String(),
		"test_id":             record.TestID,
		"environment":         record.Environment,
		"correlation_id":      record.CorrelationID,
		"rollback_on_failure": req.RollbackOnFailure,
	}

	// Runs are not retried at the queue level. A failed run is a result,
	// and what happens next is the recovery layer's decision.
	job := queue.NewJob(JobTypeTestRun, mapPriority(req.Priority), payload).
		WithTimeout(s.config.RunTimeout).
		WithRetries(0, 0).
		WithTags(req.Tags...)

	if err := s.queue.Enqueue(ctx, job); err != nil {
		if delErr := s.store.DeleteTestRun(ctx, record.ID); delErr != nil {
			s.logger.Error("Failed to remove run record after enqueue failure",
				"run_id", record.ID.String(),
				"error", delErr,
			)
		}
		return nil, errors.NewInternalError("failed to enqueue test run").WithCause(err)
	}

	s.logger.LogRunEvent(ctx, "run_submitted", record.TestID, record.Environment, map[string]interface{}{
		"run_id":   record.ID.String(),
		"priority": req.Priority,
		"steps":    record.TotalSteps,
	})

	return record, nil
}

// GetRun retrieves a stored run by its record ID
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*store.TestRunRecord, error) {
	return s.store.GetTestRun(ctx, runID)
}

// GetRunStatus reports where a run stands. Runs the engine is still holding
// get live progress; everything else is answered from the stored record.
func (s *Service) GetRunStatus(ctx context.Context, runID uuid.UUID) (*RunStatusInfo, error) {
	record, err := s.store.GetTestRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !record.Finished() {
		if info, ok := s.engine.GetExecutionInfo(record.TestID); ok {
			return &info, nil
		}
	}

	info := &RunStatusInfo{
		TestID:         record.TestID,
		Status:         TestStatus(record.Status),
		StartedAt:      record.StartedAt,
		CompletedAt:    record.CompletedAt,
		CompletedSteps: record.SuccessfulSteps + record.FailedSteps,
		TotalSteps:     record.TotalSteps,
		FailureReason:  record.FailureReason,
	}
	if record.TotalSteps > 0 {
		info.Progress = float64(info.CompletedSteps) / float64(record.TotalSteps) * 100
	}
	return info, nil
}

// GetRunSteps retrieves the persisted step results for a run
func (s *Service) GetRunSteps(ctx context.Context, runID uuid.UUID) ([]*store.StepResultRecord, error) {
	if _, err := s.store.GetTestRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.GetStepResults(ctx, runID)
}

// GetRunRecovery retrieves the recovery events recorded for a run
func (s *Service) GetRunRecovery(ctx context.Context, runID uuid.UUID) ([]*store.RecoveryEventRecord, error) {
	if _, err := s.store.GetTestRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.GetRecoveryEvents(ctx, runID)
}

// ListRuns lists stored runs with filtering and pagination
func (s *Service) ListRuns(ctx context.Context, filter *store.RunFilter, pagination *store.Pagination) ([]*store.TestRunRecord, int64, error) {
	return s.store.ListTestRuns(ctx, filter, pagination)
}

// GetRunSummary aggregates stored run counts, optionally per environment
func (s *Service) GetRunSummary(ctx context.Context, environment string) (*store.RunSummary, error) {
	return s.store.SummarizeTestRuns(ctx, environment)
}

// PauseRun pauses an in-flight run at its next step boundary
func (s *Service) PauseRun(ctx context.Context, testID string) error {
	return s.engine.PauseExecution(testID)
}

// ResumeRun resumes a paused run
func (s *Service) ResumeRun(ctx context.Context, testID string) error {
	return s.engine.ResumeExecution(testID)
}

// CancelRun cancels a run. An in-flight run is cancelled through the engine;
// a run that is still queued has its record marked CANCELLED so the worker
// acknowledges the job without executing it.
func (s *Service) CancelRun(ctx context.Context, testID string) error {
	err := s.engine.CancelExecution(testID)
	if err == nil || !errors.IsType(err, errors.ErrorTypeNotFound) {
		return err
	}

	record, recErr := s.store.GetLatestTestRun(ctx, testID)
	if recErr != nil {
		return err
	}
	if record.Status != store.RunStatusQueued {
		return errors.NewValidationError(fmt.Sprintf("test run is %s and cannot be cancelled", record.Status))
	}

	if err := s.store.UpdateTestRunStatus(ctx, record.ID, store.RunStatusCancelled); err != nil {
		return errors.NewInternalError("failed to cancel queued run").WithCause(err)
	}

	s.logger.LogRunEvent(ctx, "run_cancelled_queued", testID, record.Environment, map[string]interface{}{
		"run_id": record.ID.String(),
	})
	return nil
}

// GetServiceStats returns service, queue, and worker statistics
func (s *Service) GetServiceStats(ctx context.Context) (*ServiceStats, error) {
	s.mu.RLock()
	status := "stopped"
	if s.running {
		status = "running"
	}
	startedAt := s.startedAt
	workers := make([]WorkerStats, 0, len(s.workers))
	for _, worker := range s.workers {
		workers = append(workers, worker.GetStats())
	}
	s.mu.RUnlock()

	engineStats := s.engine.GetStats()

	stats := &ServiceStats{
		Status:       status,
		WorkerCount:  len(workers),
		ActiveRuns:   engineStats.ActiveRuns,
		RetainedRuns: engineStats.RetainedResults,
		Workers:      workers,
	}
	if status == "running" {
		stats.Uptime = time.Since(startedAt)
	}

	jobStats, err := s.queue.GetStats(ctx)
	if err != nil {
		s.logger.Warn("Failed to collect queue stats", "error", err)
		return stats, nil
	}
	stats.QueuedJobs = jobStats.ByStatus[queue.JobStatusQueued]
	stats.CompletedJobs = jobStats.ByStatus[queue.JobStatusCompleted]
	stats.FailedJobs = jobStats.ByStatus[queue.JobStatusFailed]

	return stats, nil
}

// Health checks the store and the registered executors
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Health(ctx); err != nil {
		return errors.NewInternalError("store health check failed").WithCause(err)
	}
	if err := s.engine.HealthCheckExecutors(ctx); err != nil {
		return errors.NewInternalError("executor health check failed").WithCause(err)
	}
	return nil
}

// healthCheckLoop periodically checks the health of the service dependencies
func (s *Service) healthCheckLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := s.store.Health(ctx); err != nil {
				s.logger.Error("Store health check failed", "error", err)
			}
			if err := s.engine.HealthCheckExecutors(ctx); err != nil {
				s.logger.Warn("Executor health check failed", "error", err)
			}
		}
	}
}

// cleanupLoop periodically expires stale queue jobs, prunes retained engine
// results, and deletes finished runs past the store retention window
func (s *Service) cleanupLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := s.queue.Cleanup(ctx); err != nil {
				s.logger.Error("Queue cleanup failed", "error", err)
			}
			if pruned := s.engine.PruneResults(); pruned > 0 {
				s.logger.Debug("Pruned retained results", "count", pruned)
			}
			cutoff := time.Now().Add(-s.config.StoreRetention)
			pruned, err := s.store.PruneFinishedRuns(ctx, cutoff)
			if err != nil {
				s.logger.Error("Run retention prune failed", "error", err)
			} else if pruned > 0 {
				s.logger.Info("Pruned stored runs", "count", pruned)
			}
		}
	}
}

// mapPriority converts a numeric priority to a queue priority
func mapPriority(priority int) queue.Priority {
	switch {
	case priority >= 10:
		return queue.PriorityHigh
	case priority >= 5:
		return queue.PriorityMedium
	default:
		return queue.PriorityLow
	}
}
