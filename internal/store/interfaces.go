package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence interface consumed by the execution service
// and the API layer
type Store interface {
	// Health checks database connectivity
	Health(ctx context.Context) error

	// Test run operations
	CreateTestRun(ctx context.Context, run *TestRunRecord) error
	GetTestRun(ctx context.Context, id uuid.UUID) (*TestRunRecord, error)
	GetLatestTestRun(ctx context.Context, testID string) (*TestRunRecord, error)
	MarkTestRunStarted(ctx context.Context, id uuid.UUID) error
	FinishTestRun(ctx context.Context, run *TestRunRecord) error
	UpdateTestRunStatus(ctx context.Context, id uuid.UUID, status string) error
	DeleteTestRun(ctx context.Context, id uuid.UUID) error
	ListTestRuns(ctx context.Context, filter *RunFilter, pagination *Pagination) ([]*TestRunRecord, int64, error)
	SummarizeTestRuns(ctx context.Context, environment string) (*RunSummary, error)
	PruneFinishedRuns(ctx context.Context, olderThan time.Time) (int64, error)

	// Step result operations
	CreateStepResults(ctx context.Context, results []*StepResultRecord) error
	GetStepResults(ctx context.Context, runID uuid.UUID) ([]*StepResultRecord, error)

	// Recovery event operations
	CreateRecoveryEvent(ctx context.Context, event *RecoveryEventRecord) error
	GetRecoveryEvents(ctx context.Context, runID uuid.UUID) ([]*RecoveryEventRecord, error)
}

// RunFilter represents filters for test run queries
type RunFilter struct {
	TestID      string    `json:"test_id,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Status      string    `json:"status,omitempty"`
	Since       time.Time `json:"since,omitempty"`
	Until       time.Time `json:"until,omitempty"`
}

// Pagination represents pagination parameters
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// DefaultPagination returns the pagination used when a caller supplies none
func DefaultPagination() *Pagination {
	return &Pagination{Page: 1, PageSize: 20}
}

func (p *Pagination) normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 200 {
		p.PageSize = 200
	}
}
