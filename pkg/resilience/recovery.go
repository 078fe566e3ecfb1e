package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
)

// ErrorHandlingConfig holds the defaults applied when callers do not supply
// their own retry or breaker settings
type ErrorHandlingConfig struct {
	Retry          RetryConfig
	CircuitBreaker CircuitBreakerConfig
}

// DefaultErrorHandlingConfig returns production defaults
func DefaultErrorHandlingConfig() ErrorHandlingConfig {
	return ErrorHandlingConfig{
		Retry:          DefaultRetryConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(""),
	}
}

// ErrorHandlingService composes circuit breaking, retry, degradation, and
// rollback behind two operations: run a call with full resilience, and
// handle a test failure once a verdict is known. Circuit breakers are
// created lazily per service and live for the process lifetime.
type ErrorHandlingService struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	degradation *GracefulDegradationManager
	rollback    *RollbackManager
	config      ErrorHandlingConfig

	breakerHook func(name string, from, to CircuitState)
	logger      *logging.Logger
}

// NewErrorHandlingService creates the error handling façade. Nil managers
// are replaced with fresh empty ones.
func NewErrorHandlingService(config ErrorHandlingConfig, degradation *GracefulDegradationManager, rollback *RollbackManager) *ErrorHandlingService {
	if degradation == nil {
		degradation = NewGracefulDegradationManager()
	}
	if rollback == nil {
		rollback = NewRollbackManager()
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = DefaultRetryConfig()
	}
	if config.CircuitBreaker.FailureThreshold == 0 {
		config.CircuitBreaker = DefaultCircuitBreakerConfig("")
	}

	return &ErrorHandlingService{
		breakers:    make(map[string]*CircuitBreaker),
		degradation: degradation,
		rollback:    rollback,
		config:      config,
		logger:      logging.GetLogger(),
	}
}

// SetBreakerStateHook registers a callback invoked on every circuit breaker
// state transition, in addition to any per-breaker OnStateChange. Used to
// bridge breaker events into alerting.
func (s *ErrorHandlingService) SetBreakerStateHook(hook func(name string, from, to CircuitState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakerHook = hook
}

// GetDegradationManager exposes the degradation manager
func (s *ErrorHandlingService) GetDegradationManager() *GracefulDegradationManager {
	return s.degradation
}

// GetRollbackManager exposes the rollback manager
func (s *ErrorHandlingService) GetRollbackManager() *RollbackManager {
	return s.rollback
}

// ExecuteWithErrorHandling runs an operation with the full resilience stack:
// a per-service circuit breaker on the outside, retry inside it, and
// degradation as the last resort. An open breaker or exhausted retries fall
// through to degradation; if no strategy applies, the terminal failure
// propagates to the caller.
func (s *ErrorHandlingService) ExecuteWithErrorHandling(ctx context.Context, operationName, serviceID string, operation func(context.Context) (interface{}, error), retryConfig *RetryConfig, cbConfig *CircuitBreakerConfig) (interface{}, error) {
	breaker := s.breakerFor(serviceID, cbConfig)

	retry := s.config.Retry
	if retryConfig != nil {
		retry = *retryConfig
	}
	retrier := NewRetrier(retry)

	var attempts int
	result, err := breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		res, outcome, opErr := retrier.ExecuteWithResult(ctx, operation)
		attempts = outcome.Attempts
		return res, opErr
	})
	if err == nil {
		return result, nil
	}

	s.logger.LogRecoveryEvent(ctx, "operation_failed", serviceID, map[string]interface{}{
		"operation": operationName,
		"attempts":  attempts,
		"error":     err.Error(),
	})

	degraded, degradeErr := s.degradation.ExecuteWithDegradation(ctx, operationName, serviceID, err, nil)
	if degradeErr != nil {
		if stderrors.Is(degradeErr, ErrNoApplicableStrategy) {
			return nil, err
		}
		return nil, degradeErr
	}
	return degraded, nil
}

// RecoveryResult reports what handling a test failure actually did. It is
// always produced; partial failures are recorded inside it rather than
// returned as errors.
type RecoveryResult struct {
	TestID             string                 `json:"test_id"`
	FailureType        errors.FailureType     `json:"failure_type,omitempty"`
	FailureSeverity    errors.FailureSeverity `json:"failure_severity"`
	DegradationApplied bool                   `json:"degradation_applied"`
	DegradationLevel   DegradationLevel       `json:"degradation_level"`
	RollbackPerformed  bool                   `json:"rollback_performed"`
	Rollback           *RollbackResult        `json:"rollback,omitempty"`
	HandledAt          time.Time              `json:"handled_at"`
}

// HandleTestFailure applies the recovery policy for a classified failure:
// the (type, severity) pair maps to a degradation level which is applied to
// the failing service, and rollback runs when the caller requests it.
func (s *ErrorHandlingService) HandleTestFailure(ctx context.Context, testID string, failure *errors.TestFailure, performRollback bool) *RecoveryResult {
	result := &RecoveryResult{
		TestID:    testID,
		HandledAt: time.Now(),
	}

	if failure != nil {
		result.FailureType = failure.Type
		result.FailureSeverity = failure.Severity

		level := MapFailureToDegradation(failure.Type, failure.Severity)
		result.DegradationLevel = level

		if level > LevelNone && failure.ServiceID != "" {
			s.degradation.EscalateService(failure.ServiceID, level)
			result.DegradationApplied = true
		}

		s.logger.LogRecoveryEvent(ctx, "test_failure_handled", failure.ServiceID, map[string]interface{}{
			"test_id":  testID,
			"type":     string(failure.Type),
			"severity": failure.Severity.String(),
			"level":    level.String(),
			"rollback": performRollback,
		})
	}

	if performRollback {
		result.RollbackPerformed = true
		result.Rollback = s.rollback.ExecuteRollback(ctx, testID)
	}

	return result
}

// MapFailureToDegradation maps a failure classification to the degradation
// level applied to the failing service. The table is total: unknown types
// fall back to the service row, unknown severities to medium.
func MapFailureToDegradation(failureType errors.FailureType, severity errors.FailureSeverity) DegradationLevel {
	if severity < errors.SeverityLow || severity > errors.SeverityCritical {
		severity = errors.SeverityMedium
	}

	switch failureType {
	case errors.FailureTypeNetwork:
		switch severity {
		case errors.SeverityLow, errors.SeverityMedium:
			return LevelMinimal
		case errors.SeverityHigh:
			return LevelModerate
		default:
			return LevelSevere
		}
	case errors.FailureTypeData, errors.FailureTypeBusinessLogic:
		switch severity {
		case errors.SeverityLow:
			return LevelNone
		case errors.SeverityMedium:
			return LevelMinimal
		case errors.SeverityHigh:
			return LevelModerate
		default:
			return LevelSevere
		}
	case errors.FailureTypeAuthentication:
		switch severity {
		case errors.SeverityLow, errors.SeverityMedium:
			return LevelModerate
		case errors.SeverityHigh:
			return LevelSevere
		default:
			return LevelCritical
		}
	default: // service failures and anything unclassified
		switch severity {
		case errors.SeverityLow:
			return LevelMinimal
		case errors.SeverityMedium:
			return LevelModerate
		default:
			return LevelSevere
		}
	}
}

// RecoveryStatistics is a read-only snapshot of the recovery subsystem,
// recomputed from live state on every call
type RecoveryStatistics struct {
	TotalCircuitBreakers           int       `json:"total_circuit_breakers"`
	OpenCircuitBreakers            int       `json:"open_circuit_breakers"`
	DegradedServices               int       `json:"degraded_services"`
	TestsWithRollbackActions       int       `json:"tests_with_rollback_actions"`
	CircuitBreakerHealthPercentage float64   `json:"circuit_breaker_health_percentage"`
	CollectedAt                    time.Time `json:"collected_at"`
}

// GetRecoveryStatistics returns aggregate health of the recovery subsystem
func (s *ErrorHandlingService) GetRecoveryStatistics() RecoveryStatistics {
	s.mu.RLock()
	total := len(s.breakers)
	open := 0
	for _, cb := range s.breakers {
		if cb.State() == StateOpen {
			open++
		}
	}
	s.mu.RUnlock()

	health := 100.0
	if total > 0 {
		health = float64(total-open) / float64(total) * 100
	}

	return RecoveryStatistics{
		TotalCircuitBreakers:           total,
		OpenCircuitBreakers:            open,
		DegradedServices:               len(s.degradation.DegradedServices()),
		TestsWithRollbackActions:       s.rollback.TestsWithActions(),
		CircuitBreakerHealthPercentage: health,
		CollectedAt:                    time.Now(),
	}
}

// GetCircuitBreaker returns the breaker for a service if one exists
func (s *ErrorHandlingService) GetCircuitBreaker(serviceID string) (*CircuitBreaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cb, ok := s.breakers[serviceID]
	return cb, ok
}

// CircuitBreakerStates returns the current state of every breaker
func (s *ErrorHandlingService) CircuitBreakerStates() map[string]CircuitState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[string]CircuitState, len(s.breakers))
	for name, cb := range s.breakers {
		states[name] = cb.State()
	}
	return states
}

// ResetCircuitBreakers drops every breaker; the next call per service
// starts from a fresh CLOSED breaker
func (s *ErrorHandlingService) ResetCircuitBreakers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakers = make(map[string]*CircuitBreaker)
}

// Reset restores the service to its initial state
func (s *ErrorHandlingService) Reset() {
	s.ResetCircuitBreakers()
	s.degradation.ResetAll()
}

// breakerFor returns the breaker for a service, creating it on first use.
// An explicit config only applies at creation time.
func (s *ErrorHandlingService) breakerFor(serviceID string, cbConfig *CircuitBreakerConfig) *CircuitBreaker {
	s.mu.RLock()
	cb, ok := s.breakers[serviceID]
	s.mu.RUnlock()
	if ok {
		return cb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok = s.breakers[serviceID]; ok {
		return cb
	}

	config := s.config.CircuitBreaker
	if cbConfig != nil {
		config = *cbConfig
	}
	config.Name = serviceID

	userHook := config.OnStateChange
	config.OnStateChange = func(name string, from, to CircuitState) {
		if userHook != nil {
			userHook(name, from, to)
		}
		s.notifyBreakerChange(name, from, to)
	}

	cb = NewCircuitBreaker(config)
	s.breakers[serviceID] = cb
	return cb
}

func (s *ErrorHandlingService) notifyBreakerChange(name string, from, to CircuitState) {
	s.mu.RLock()
	hook := s.breakerHook
	s.mu.RUnlock()
	if hook != nil {
		hook(name, from, to)
	}
}
