package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StoreAdapter bundles the repositories behind the Store interface
type StoreAdapter struct {
	db    *DB
	repos *Repositories
}

// NewStoreAdapter creates a Store backed by the given database
func NewStoreAdapter(db *DB, repos *Repositories) Store {
	if repos == nil {
		repos = NewRepositories(db)
	}
	return &StoreAdapter{
		db:    db,
		repos: repos,
	}
}

// Health checks database connectivity
func (s *StoreAdapter) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Test run operations
func (s *StoreAdapter) CreateTestRun(ctx context.Context, run *TestRunRecord) error {
	return s.repos.Runs.Create(ctx, run)
}

func (s *StoreAdapter) GetTestRun(ctx context.Context, id uuid.UUID) (*TestRunRecord, error) {
	return s.repos.Runs.GetByID(ctx, id)
}

func (s *StoreAdapter) GetLatestTestRun(ctx context.Context, testID string) (*TestRunRecord, error) {
	return s.repos.Runs.GetLatestByTestID(ctx, testID)
}

func (s *StoreAdapter) MarkTestRunStarted(ctx context.Context, id uuid.UUID) error {
	return s.repos.Runs.MarkStarted(ctx, id)
}

func (s *StoreAdapter) FinishTestRun(ctx context.Context, run *TestRunRecord) error {
	return s.repos.Runs.Finish(ctx, run)
}

func (s *StoreAdapter) UpdateTestRunStatus(ctx context.Context, id uuid.UUID, status string) error {
	return s.repos.Runs.UpdateStatus(ctx, id, status)
}

func (s *StoreAdapter) DeleteTestRun(ctx context.Context, id uuid.UUID) error {
	return s.repos.Runs.Delete(ctx, id)
}

func (s *StoreAdapter) ListTestRuns(ctx context.Context, filter *RunFilter, pagination *Pagination) ([]*TestRunRecord, int64, error) {
	return s.repos.Runs.List(ctx, filter, pagination)
}

func (s *StoreAdapter) SummarizeTestRuns(ctx context.Context, environment string) (*RunSummary, error) {
	return s.repos.Runs.Summarize(ctx, environment)
}

func (s *StoreAdapter) PruneFinishedRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.repos.Runs.PruneFinished(ctx, olderThan)
}

// Step result operations
func (s *StoreAdapter) CreateStepResults(ctx context.Context, results []*StepResultRecord) error {
	return s.repos.Steps.CreateBatch(ctx, results)
}

func (s *StoreAdapter) GetStepResults(ctx context.Context, runID uuid.UUID) ([]*StepResultRecord, error) {
	return s.repos.Steps.ListByRun(ctx, runID)
}

// Recovery event operations
func (s *StoreAdapter) CreateRecoveryEvent(ctx context.Context, event *RecoveryEventRecord) error {
	return s.repos.Recovery.Create(ctx, event)
}

func (s *StoreAdapter) GetRecoveryEvents(ctx context.Context, runID uuid.UUID) ([]*RecoveryEventRecord, error) {
	return s.repos.Recovery.ListByRun(ctx, runID)
}
