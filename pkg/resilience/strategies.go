package resilience

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// CachedResultStrategy serves the last known good result for an operation
// when the live call fails. Results are primed by callers on every
// successful call, so the fallback only applies where a value exists.
type CachedResultStrategy struct {
	operations []string
	maxAge     time.Duration

	mu    sync.RWMutex
	cache map[string]cachedEntry
}

type cachedEntry struct {
	value    interface{}
	storedAt time.Time
}

// NewCachedResultStrategy creates a cached-result fallback for the given
// operations. Entries older than maxAge are ignored; zero means no limit.
func NewCachedResultStrategy(operations []string, maxAge time.Duration) *CachedResultStrategy {
	return &CachedResultStrategy{
		operations: operations,
		maxAge:     maxAge,
		cache:      make(map[string]cachedEntry),
	}
}

// RecordResult primes the cache with a fresh successful result
func (s *CachedResultStrategy) RecordResult(serviceID, operationName string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[cacheKey(serviceID, operationName)] = cachedEntry{value: value, storedAt: time.Now()}
}

func (s *CachedResultStrategy) Level() DegradationLevel { return LevelMinimal }

func (s *CachedResultStrategy) CanHandle(failure error, serviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := serviceID + "/"
	for key, entry := range s.cache {
		if strings.HasPrefix(key, prefix) && s.fresh(entry) {
			return true
		}
	}
	return false
}

func (s *CachedResultStrategy) ExecuteDegraded(ctx context.Context, operationName, serviceID string, failure error, params map[string]interface{}) (interface{}, error) {
	s.mu.RLock()
	entry, ok := s.cache[cacheKey(serviceID, operationName)]
	s.mu.RUnlock()

	if !ok || !s.fresh(entry) {
		return nil, fmt.Errorf("no cached result for %s on service %s", operationName, serviceID)
	}
	return entry.value, nil
}

func (s *CachedResultStrategy) SupportedOperations() []string { return s.operations }

func (s *CachedResultStrategy) Description() string {
	return "serve last known good result from cache"
}

func (s *CachedResultStrategy) fresh(entry cachedEntry) bool {
	return s.maxAge <= 0 || time.Since(entry.storedAt) <= s.maxAge
}

func cacheKey(serviceID, operationName string) string {
	return serviceID + "/" + operationName
}

// StaticResponseStrategy answers with a preconfigured canned value per
// operation, regardless of what the live service would have said
type StaticResponseStrategy struct {
	operations []string
	responses  map[string]interface{}
}

// NewStaticResponseStrategy creates a canned-response fallback. The
// responses map is keyed by operation name.
func NewStaticResponseStrategy(responses map[string]interface{}) *StaticResponseStrategy {
	operations := make([]string, 0, len(responses))
	for op := range responses {
		operations = append(operations, op)
	}
	return &StaticResponseStrategy{
		operations: operations,
		responses:  responses,
	}
}

func (s *StaticResponseStrategy) Level() DegradationLevel { return LevelModerate }

func (s *StaticResponseStrategy) CanHandle(failure error, serviceID string) bool { return true }

func (s *StaticResponseStrategy) ExecuteDegraded(ctx context.Context, operationName, serviceID string, failure error, params map[string]interface{}) (interface{}, error) {
	response, ok := s.responses[operationName]
	if !ok {
		return nil, fmt.Errorf("no static response configured for %s", operationName)
	}
	return response, nil
}

func (s *StaticResponseStrategy) SupportedOperations() []string { return s.operations }

func (s *StaticResponseStrategy) Description() string {
	return "return preconfigured static response"
}

// SkippedResult marks an operation that was skipped instead of executed
type SkippedResult struct {
	OperationName string `json:"operation_name"`
	ServiceID     string `json:"service_id"`
	Reason        string `json:"reason"`
}

// SkipOperationStrategy acknowledges the operation without doing any work.
// Used when a dependency is so unhealthy that non-essential interactions
// should not be attempted at all.
type SkipOperationStrategy struct {
	operations []string
}

// NewSkipOperationStrategy creates a skip fallback for the given operations
func NewSkipOperationStrategy(operations []string) *SkipOperationStrategy {
	return &SkipOperationStrategy{operations: operations}
}

func (s *SkipOperationStrategy) Level() DegradationLevel { return LevelSevere }

func (s *SkipOperationStrategy) CanHandle(failure error, serviceID string) bool { return true }

func (s *SkipOperationStrategy) ExecuteDegraded(ctx context.Context, operationName, serviceID string, failure error, params map[string]interface{}) (interface{}, error) {
	return &SkippedResult{
		OperationName: operationName,
		ServiceID:     serviceID,
		Reason:        "operation skipped due to service degradation",
	}, nil
}

func (s *SkipOperationStrategy) SupportedOperations() []string { return s.operations }

func (s *SkipOperationStrategy) Description() string {
	return "skip non-essential operation"
}

// ShedLoadError is returned when load shedding rejects an operation
type ShedLoadError struct {
	OperationName string
	ServiceID     string
}

func (e *ShedLoadError) Error() string {
	return fmt.Sprintf("operation %s shed for service %s under critical degradation", e.OperationName, e.ServiceID)
}

// ShedLoadStrategy rejects operations immediately without touching the
// failing service, bounding the damage a critically degraded dependency
// can cause
type ShedLoadStrategy struct {
	operations []string
}

// NewShedLoadStrategy creates a load-shedding fallback for the given operations
func NewShedLoadStrategy(operations []string) *ShedLoadStrategy {
	return &ShedLoadStrategy{operations: operations}
}

func (s *ShedLoadStrategy) Level() DegradationLevel { return LevelCritical }

func (s *ShedLoadStrategy) CanHandle(failure error, serviceID string) bool { return true }

func (s *ShedLoadStrategy) ExecuteDegraded(ctx context.Context, operationName, serviceID string, failure error, params map[string]interface{}) (interface{}, error) {
	return nil, &ShedLoadError{OperationName: operationName, ServiceID: serviceID}
}

func (s *ShedLoadStrategy) SupportedOperations() []string { return s.operations }

func (s *ShedLoadStrategy) Description() string {
	return "shed load, fail fast without calling the service"
}
