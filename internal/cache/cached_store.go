package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
)

// RunCacher is the cache surface consumed by CachedStore
type RunCacher interface {
	SetRun(ctx context.Context, run *store.TestRunRecord) error
	GetRun(ctx context.Context, runID uuid.UUID) (*store.TestRunRecord, error)
	SetSteps(ctx context.Context, runID uuid.UUID, steps []*store.StepResultRecord) error
	GetSteps(ctx context.Context, runID uuid.UUID) ([]*store.StepResultRecord, error)
	SetSummary(ctx context.Context, environment string, summary *store.RunSummary) error
	GetSummary(ctx context.Context, environment string) (*store.RunSummary, error)
	InvalidateRun(ctx context.Context, runID uuid.UUID) error
	InvalidateSummaries(ctx context.Context) error
	InvalidateAllRuns(ctx context.Context) error
}

var _ RunCacher = (*RunCache)(nil)

// CachedStore wraps a Store with read-through caching for finished runs,
// step results, and run summaries. Cache failures are logged and never
// surface to callers; the store remains the source of truth.
type CachedStore struct {
	store  store.Store
	cache  RunCacher
	logger *logging.Logger
}

var _ store.Store = (*CachedStore)(nil)

// NewCachedStore creates a store decorated with run caching
func NewCachedStore(st store.Store, cache RunCacher) *CachedStore {
	return &CachedStore{
		store:  st,
		cache:  cache,
		logger: logging.GetLogger(),
	}
}

// Health checks database connectivity
func (cs *CachedStore) Health(ctx context.Context) error {
	return cs.store.Health(ctx)
}

// CreateTestRun persists a new run and invalidates cached summaries
func (cs *CachedStore) CreateTestRun(ctx context.Context, run *store.TestRunRecord) error {
	if err := cs.store.CreateTestRun(ctx, run); err != nil {
		return err
	}
	cs.invalidateSummaries(ctx)
	return nil
}

// GetTestRun returns a run from cache when available, falling back to the
// store. Only finished runs are cached; active runs change under the engine.
func (cs *CachedStore) GetTestRun(ctx context.Context, id uuid.UUID) (*store.TestRunRecord, error) {
	cached, err := cs.cache.GetRun(ctx, id)
	if err == nil {
		return cached, nil
	}
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		cs.logger.Debug("Run cache read failed", "run_id", id, "error", err)
	}

	run, err := cs.store.GetTestRun(ctx, id)
	if err != nil {
		return nil, err
	}

	if run.Finished() {
		if err := cs.cache.SetRun(ctx, run); err != nil {
			cs.logger.Debug("Run cache write failed", "run_id", id, "error", err)
		}
	}

	return run, nil
}

// GetLatestTestRun returns the most recent run for a test
func (cs *CachedStore) GetLatestTestRun(ctx context.Context, testID string) (*store.TestRunRecord, error) {
	return cs.store.GetLatestTestRun(ctx, testID)
}

// MarkTestRunStarted transitions a run to RUNNING and drops its cache entry
func (cs *CachedStore) MarkTestRunStarted(ctx context.Context, id uuid.UUID) error {
	if err := cs.store.MarkTestRunStarted(ctx, id); err != nil {
		return err
	}
	cs.invalidateRun(ctx, id)
	return nil
}

// FinishTestRun records a terminal state and invalidates the run and summaries
func (cs *CachedStore) FinishTestRun(ctx context.Context, run *store.TestRunRecord) error {
	if err := cs.store.FinishTestRun(ctx, run); err != nil {
		return err
	}
	cs.invalidateRun(ctx, run.ID)
	cs.invalidateSummaries(ctx)
	return nil
}

// UpdateTestRunStatus updates a run status and invalidates the run and summaries
func (cs *CachedStore) UpdateTestRunStatus(ctx context.Context, id uuid.UUID, status string) error {
	if err := cs.store.UpdateTestRunStatus(ctx, id, status); err != nil {
		return err
	}
	cs.invalidateRun(ctx, id)
	cs.invalidateSummaries(ctx)
	return nil
}

// DeleteTestRun removes a run and its cache entries
func (cs *CachedStore) DeleteTestRun(ctx context.Context, id uuid.UUID) error {
	if err := cs.store.DeleteTestRun(ctx, id); err != nil {
		return err
	}
	cs.invalidateRun(ctx, id)
	cs.invalidateSummaries(ctx)
	return nil
}

// ListTestRuns returns runs matching the filter. Listings are not cached;
// the filter and pagination space is too wide to invalidate reliably.
func (cs *CachedStore) ListTestRuns(ctx context.Context, filter *store.RunFilter, pagination *store.Pagination) ([]*store.TestRunRecord, int64, error) {
	return cs.store.ListTestRuns(ctx, filter, pagination)
}

// SummarizeTestRuns returns aggregate counts, cached briefly per environment
func (cs *CachedStore) SummarizeTestRuns(ctx context.Context, environment string) (*store.RunSummary, error) {
	cached, err := cs.cache.GetSummary(ctx, environment)
	if err == nil {
		return cached, nil
	}
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		cs.logger.Debug("Summary cache read failed", "environment", environment, "error", err)
	}

	summary, err := cs.store.SummarizeTestRuns(ctx, environment)
	if err != nil {
		return nil, err
	}

	if err := cs.cache.SetSummary(ctx, environment, summary); err != nil {
		cs.logger.Debug("Summary cache write failed", "environment", environment, "error", err)
	}

	return summary, nil
}

// PruneFinishedRuns deletes old finished runs and flushes run caches when
// anything was removed
func (cs *CachedStore) PruneFinishedRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	pruned, err := cs.store.PruneFinishedRuns(ctx, olderThan)
	if err != nil {
		return pruned, err
	}

	if pruned > 0 {
		if err := cs.cache.InvalidateAllRuns(ctx); err != nil {
			cs.logger.Debug("Run cache flush failed", "error", err)
		}
		cs.invalidateSummaries(ctx)
	}

	return pruned, nil
}

// CreateStepResults persists step results and drops the cached step list
func (cs *CachedStore) CreateStepResults(ctx context.Context, results []*store.StepResultRecord) error {
	if err := cs.store.CreateStepResults(ctx, results); err != nil {
		return err
	}
	if len(results) > 0 {
		cs.invalidateRun(ctx, results[0].RunID)
	}
	return nil
}

// GetStepResults returns step results from cache when available
func (cs *CachedStore) GetStepResults(ctx context.Context, runID uuid.UUID) ([]*store.StepResultRecord, error) {
	cached, err := cs.cache.GetSteps(ctx, runID)
	if err == nil {
		return cached, nil
	}
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		cs.logger.Debug("Step cache read failed", "run_id", runID, "error", err)
	}

	steps, err := cs.store.GetStepResults(ctx, runID)
	if err != nil {
		return nil, err
	}

	if len(steps) > 0 {
		if err := cs.cache.SetSteps(ctx, runID, steps); err != nil {
			cs.logger.Debug("Step cache write failed", "run_id", runID, "error", err)
		}
	}

	return steps, nil
}

// CreateRecoveryEvent records a recovery event
func (cs *CachedStore) CreateRecoveryEvent(ctx context.Context, event *store.RecoveryEventRecord) error {
	return cs.store.CreateRecoveryEvent(ctx, event)
}

// GetRecoveryEvents returns the recovery timeline for a run
func (cs *CachedStore) GetRecoveryEvents(ctx context.Context, runID uuid.UUID) ([]*store.RecoveryEventRecord, error) {
	return cs.store.GetRecoveryEvents(ctx, runID)
}

func (cs *CachedStore) invalidateRun(ctx context.Context, id uuid.UUID) {
	if err := cs.cache.InvalidateRun(ctx, id); err != nil {
		cs.logger.Debug("Run cache invalidation failed", "run_id", id, "error", err)
	}
}

func (cs *CachedStore) invalidateSummaries(ctx context.Context) {
	if err := cs.cache.InvalidateSummaries(ctx); err != nil {
		cs.logger.Debug("Summary cache invalidation failed", "error", err)
	}
}
