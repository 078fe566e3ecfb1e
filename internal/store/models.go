package store

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses persisted for test runs. Values mirror the engine's
// execution states so API consumers see one vocabulary.
const (
	RunStatusQueued         = "QUEUED"
	RunStatusRunning        = "RUNNING"
	RunStatusPaused         = "PAUSED"
	RunStatusPassed         = "PASSED"
	RunStatusFailed         = "FAILED"
	RunStatusPartialSuccess = "PARTIAL_SUCCESS"
	RunStatusCancelled      = "CANCELLED"
)

// TestRunRecord is the persisted form of a test run. Plan holds the
// submitted execution plan as JSON so a run can be replayed or inspected
// after the fact.
type TestRunRecord struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	TestID            string     `json:"test_id" db:"test_id"`
	Name              string     `json:"name" db:"name"`
	Environment       string     `json:"environment" db:"environment"`
	CorrelationID     string     `json:"correlation_id" db:"correlation_id"`
	Priority          int        `json:"priority" db:"priority"`
	Status            string     `json:"status" db:"status"`
	Plan              []byte     `json:"-" db:"plan"`
	TotalSteps        int        `json:"total_steps" db:"total_steps"`
	SuccessfulSteps   int        `json:"successful_steps" db:"successful_steps"`
	FailedSteps       int        `json:"failed_steps" db:"failed_steps"`
	SkippedSteps      int        `json:"skipped_steps" db:"skipped_steps"`
	FailureReason     string     `json:"failure_reason,omitempty" db:"failure_reason"`
	RecoveryApplied   bool       `json:"recovery_applied" db:"recovery_applied"`
	RollbackPerformed bool       `json:"rollback_performed" db:"rollback_performed"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationMS        int64      `json:"duration_ms" db:"duration_ms"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Finished reports whether the run reached a terminal status
func (r *TestRunRecord) Finished() bool {
	switch r.Status {
	case RunStatusPassed, RunStatusFailed, RunStatusPartialSuccess, RunStatusCancelled:
		return true
	}
	return false
}

// StepResultRecord is the persisted outcome of one executed step
type StepResultRecord struct {
	ID           uuid.UUID `json:"id" db:"id"`
	RunID        uuid.UUID `json:"run_id" db:"run_id"`
	StepID       string    `json:"step_id" db:"step_id"`
	StepName     string    `json:"step_name" db:"step_name"`
	StepType     string    `json:"step_type" db:"step_type"`
	ServiceID    string    `json:"service_id" db:"service_id"`
	StepIndex    int       `json:"step_index" db:"step_index"`
	Status       string    `json:"status" db:"status"`
	Attempts     int       `json:"attempts" db:"attempts"`
	Output       []byte    `json:"-" db:"output"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	CompletedAt  time.Time `json:"completed_at" db:"completed_at"`
	DurationMS   int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// RecoveryEventRecord captures what the recovery pipeline did about a
// failed run
type RecoveryEventRecord struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	RunID              uuid.UUID `json:"run_id" db:"run_id"`
	TestID             string    `json:"test_id" db:"test_id"`
	FailureType        string    `json:"failure_type" db:"failure_type"`
	FailureSeverity    string    `json:"failure_severity" db:"failure_severity"`
	DegradationApplied bool      `json:"degradation_applied" db:"degradation_applied"`
	DegradationLevel   string    `json:"degradation_level" db:"degradation_level"`
	RollbackPerformed  bool      `json:"rollback_performed" db:"rollback_performed"`
	RollbackSucceeded  *bool     `json:"rollback_succeeded,omitempty" db:"rollback_succeeded"`
	Details            []byte    `json:"-" db:"details"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// RunSummary is an aggregate view over stored runs
type RunSummary struct {
	TotalRuns      int64 `json:"total_runs" db:"total_runs"`
	PassedRuns     int64 `json:"passed_runs" db:"passed_runs"`
	FailedRuns     int64 `json:"failed_runs" db:"failed_runs"`
	PartialRuns    int64 `json:"partial_runs" db:"partial_runs"`
	CancelledRuns  int64 `json:"cancelled_runs" db:"cancelled_runs"`
	ActiveRuns     int64 `json:"active_runs" db:"active_runs"`
	RecoveredRuns  int64 `json:"recovered_runs" db:"recovered_runs"`
	RolledBackRuns int64 `json:"rolled_back_runs" db:"rolled_back_runs"`
}
