package cache

import (
	"context"

	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
)

// RunCache provides caching for test runs, step results, and run summaries
type RunCache struct {
	service *Service
}

// NewRunCache creates a new run cache
func NewRunCache(service *Service) *RunCache {
	return &RunCache{service: service}
}

// SetRun caches a test run record
func (rc *RunCache) SetRun(ctx context.Context, run *store.TestRunRecord) error {
	key := CacheKey{Prefix: PrefixRun, ID: run.ID.String()}
	return rc.service.Set(ctx, key, run, rc.service.config.RunTTL)
}

// GetRun retrieves a cached test run record
func (rc *RunCache) GetRun(ctx context.Context, runID uuid.UUID) (*store.TestRunRecord, error) {
	key := CacheKey{Prefix: PrefixRun, ID: runID.String()}

	var run store.TestRunRecord
	if err := rc.service.Get(ctx, key, &run); err != nil {
		return nil, err
	}

	return &run, nil
}

// SetSteps caches the step results of a run as a single document
func (rc *RunCache) SetSteps(ctx context.Context, runID uuid.UUID, steps []*store.StepResultRecord) error {
	key := CacheKey{Prefix: PrefixRunSteps, ID: runID.String()}
	return rc.service.Set(ctx, key, steps, rc.service.config.StepsTTL)
}

// GetSteps retrieves cached step results for a run
func (rc *RunCache) GetSteps(ctx context.Context, runID uuid.UUID) ([]*store.StepResultRecord, error) {
	key := CacheKey{Prefix: PrefixRunSteps, ID: runID.String()}

	var steps []*store.StepResultRecord
	if err := rc.service.Get(ctx, key, &steps); err != nil {
		return nil, err
	}

	return steps, nil
}

// SetSummary caches a run summary for an environment
func (rc *RunCache) SetSummary(ctx context.Context, environment string, summary *store.RunSummary) error {
	key := CacheKey{Prefix: PrefixRunSummary, ID: summaryID(environment)}
	return rc.service.Set(ctx, key, summary, rc.service.config.SummaryTTL)
}

// GetSummary retrieves a cached run summary for an environment
func (rc *RunCache) GetSummary(ctx context.Context, environment string) (*store.RunSummary, error) {
	key := CacheKey{Prefix: PrefixRunSummary, ID: summaryID(environment)}

	var summary store.RunSummary
	if err := rc.service.Get(ctx, key, &summary); err != nil {
		return nil, err
	}

	return &summary, nil
}

// InvalidateRun removes a run and its step results from cache
func (rc *RunCache) InvalidateRun(ctx context.Context, runID uuid.UUID) error {
	return rc.service.Delete(ctx,
		CacheKey{Prefix: PrefixRun, ID: runID.String()},
		CacheKey{Prefix: PrefixRunSteps, ID: runID.String()},
	)
}

// InvalidateSummaries removes all cached run summaries
func (rc *RunCache) InvalidateSummaries(ctx context.Context) error {
	return rc.service.InvalidatePattern(ctx, PrefixRunSummary+":*")
}

// InvalidateAllRuns removes all cached runs and step results. Used after
// bulk deletions where the affected run IDs are not known.
func (rc *RunCache) InvalidateAllRuns(ctx context.Context) error {
	if err := rc.service.InvalidatePattern(ctx, PrefixRun+":*"); err != nil {
		return err
	}
	return rc.service.InvalidatePattern(ctx, PrefixRunSteps+":*")
}

func summaryID(environment string) string {
	if environment == "" {
		return "all"
	}
	return environment
}
