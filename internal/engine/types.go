package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
)

// TestStatus represents the lifecycle state of a test run
type TestStatus string

const (
	TestStatusQueued         TestStatus = "QUEUED"
	TestStatusRunning        TestStatus = "RUNNING"
	TestStatusPaused         TestStatus = "PAUSED"
	TestStatusPassed         TestStatus = "PASSED"
	TestStatusFailed         TestStatus = "FAILED"
	TestStatusPartialSuccess TestStatus = "PARTIAL_SUCCESS"
	TestStatusCancelled      TestStatus = "CANCELLED"
	TestStatusNotFound       TestStatus = "NOT_FOUND"
)

// IsTerminal reports whether a run in this status has finished
func (s TestStatus) IsTerminal() bool {
	switch s {
	case TestStatusPassed, TestStatusFailed, TestStatusPartialSuccess, TestStatusCancelled:
		return true
	}
	return false
}

// TestConfiguration holds run-wide execution settings
type TestConfiguration struct {
	FailFast           bool          `json:"fail_fast"`
	DefaultStepTimeout time.Duration `json:"default_step_timeout,omitempty"`
	DefaultMaxAttempts int           `json:"default_max_attempts,omitempty"`
	DefaultRetryDelay  time.Duration `json:"default_retry_delay,omitempty"`
}

// TestExecutionPlan describes one test run: an ordered list of steps plus
// the environment they execute against
type TestExecutionPlan struct {
	TestID           string                 `json:"test_id"`
	Name             string                 `json:"name"`
	Environment      string                 `json:"environment"`
	CorrelationID    string                 `json:"correlation_id,omitempty"`
	Steps            []executor.TestStep    `json:"steps"`
	ServiceEndpoints map[string]string      `json:"service_endpoints,omitempty"`
	Config           TestConfiguration      `json:"config"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// NewPlanID returns a fresh test run identifier
func NewPlanID() string {
	return uuid.New().String()
}

// TestResult is the terminal outcome of a test run
type TestResult struct {
	TestID          string                `json:"test_id"`
	Name            string                `json:"name"`
	Environment     string                `json:"environment"`
	CorrelationID   string                `json:"correlation_id"`
	Status          TestStatus            `json:"status"`
	StartedAt       time.Time             `json:"started_at"`
	CompletedAt     time.Time             `json:"completed_at"`
	Duration        time.Duration         `json:"duration"`
	TotalSteps      int                   `json:"total_steps"`
	SuccessfulSteps int                   `json:"successful_steps"`
	FailedSteps     int                   `json:"failed_steps"`
	SkippedSteps    int                   `json:"skipped_steps"`
	StepResults     []executor.StepResult `json:"step_results"`
	FailureReason   string                `json:"failure_reason,omitempty"`
}

// RunStatusInfo is the status snapshot returned for a run, live or finished
type RunStatusInfo struct {
	TestID         string     `json:"test_id"`
	Status         TestStatus `json:"status"`
	Progress       float64    `json:"progress"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CurrentStep    string     `json:"current_step,omitempty"`
	CompletedSteps int        `json:"completed_steps"`
	TotalSteps     int        `json:"total_steps"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// WorkerStats represents statistics for a queue worker
type WorkerStats struct {
	WorkerID      string        `json:"worker_id"`
	Status        string        `json:"status"`
	JobsProcessed int64         `json:"jobs_processed"`
	JobsFailed    int64         `json:"jobs_failed"`
	LastJobAt     *time.Time    `json:"last_job_at,omitempty"`
	Uptime        time.Duration `json:"uptime"`
}

// ServiceStats represents statistics for the run intake service
type ServiceStats struct {
	Status        string        `json:"status"`
	WorkerCount   int           `json:"worker_count"`
	ActiveRuns    int           `json:"active_runs"`
	RetainedRuns  int           `json:"retained_runs"`
	QueuedJobs    int64         `json:"queued_jobs"`
	CompletedJobs int64         `json:"completed_jobs"`
	FailedJobs    int64         `json:"failed_jobs"`
	Uptime        time.Duration `json:"uptime"`
	Workers       []WorkerStats `json:"workers"`
}
