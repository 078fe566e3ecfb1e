package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int32

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, probe requests are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker open
	FailureThreshold int32
	// RecoveryTimeout is how long the breaker stays open before the next
	// call is allowed through as a probe
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive probe successes
	// required to close the breaker again
	SuccessThreshold int32
	// Disabled turns the breaker off; a disabled breaker never trips and
	// passes every call through
	Disabled bool
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// DefaultCircuitBreakerConfig returns a config with production defaults
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             int64
	TotalSuccesses       int64
	TotalFailures        int64
	ConsecutiveSuccesses int32
	ConsecutiveFailures  int32
}

// CircuitBreaker prevents calls to a service that keeps failing. The same
// instance is shared by every run touching that service, so state and
// counters are kept in atomics and transitions go through compare-and-swap;
// racing callers cannot double-trip the breaker or lose a failure count.
type CircuitBreaker struct {
	name             string
	failureThreshold int32
	recoveryTimeout  time.Duration
	successThreshold int32
	disabled         bool
	onStateChange    func(name string, from CircuitState, to CircuitState)

	state                atomic.Int32
	openedAt             atomic.Int64
	consecutiveFailures  atomic.Int32
	consecutiveSuccesses atomic.Int32
	totalRequests        atomic.Int64
	totalSuccesses       atomic.Int64
	totalFailures        atomic.Int64

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		successThreshold: config.SuccessThreshold,
		disabled:         config.Disabled,
		onStateChange:    config.OnStateChange,
		logger:           logging.GetLogger(),
	}
}

// Execute runs the given request if the circuit breaker accepts it
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	if cb.disabled {
		return req(ctx)
	}

	if err := cb.beforeRequest(); err != nil {
		return nil, err
	}

	cb.totalRequests.Add(1)

	defer func() {
		if r := recover(); r != nil {
			cb.onFailure()
			panic(r)
		}
	}()

	result, err := req(ctx)
	if err != nil {
		cb.onFailure()
		return result, err
	}

	cb.onSuccess()
	return result, nil
}

// Call is a convenience method that wraps Execute for functions that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// Counts returns a snapshot of the current counts
func (cb *CircuitBreaker) Counts() Counts {
	return Counts{
		Requests:             cb.totalRequests.Load(),
		TotalSuccesses:       cb.totalSuccesses.Load(),
		TotalFailures:        cb.totalFailures.Load(),
		ConsecutiveSuccesses: cb.consecutiveSuccesses.Load(),
		ConsecutiveFailures:  cb.consecutiveFailures.Load(),
	}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Enabled reports whether the breaker is active
func (cb *CircuitBreaker) Enabled() bool {
	return !cb.disabled
}

// beforeRequest decides whether the call may proceed. While open, calls are
// rejected until the recovery timeout has elapsed; the first call after that
// moves the breaker to half-open and proceeds as a probe.
func (cb *CircuitBreaker) beforeRequest() error {
	for {
		state := CircuitState(cb.state.Load())
		switch state {
		case StateClosed, StateHalfOpen:
			return nil
		case StateOpen:
			openedAt := time.Unix(0, cb.openedAt.Load())
			if time.Since(openedAt) < cb.recoveryTimeout {
				return &CircuitBreakerError{Name: cb.name, State: StateOpen}
			}
			if cb.transition(StateOpen, StateHalfOpen) {
				cb.consecutiveSuccesses.Store(0)
				cb.consecutiveFailures.Store(0)
				return nil
			}
			// Lost the race; re-read the state
		}
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.totalSuccesses.Add(1)

	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		cb.consecutiveFailures.Store(0)
		cb.consecutiveSuccesses.Add(1)
	case StateHalfOpen:
		cb.consecutiveFailures.Store(0)
		if cb.consecutiveSuccesses.Add(1) >= cb.successThreshold {
			if cb.transition(StateHalfOpen, StateClosed) {
				cb.consecutiveSuccesses.Store(0)
				cb.consecutiveFailures.Store(0)
			}
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.totalFailures.Add(1)
	cb.consecutiveSuccesses.Store(0)

	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		if cb.consecutiveFailures.Add(1) >= cb.failureThreshold {
			if cb.transition(StateClosed, StateOpen) {
				cb.openedAt.Store(time.Now().UnixNano())
			}
		}
	case StateHalfOpen:
		cb.consecutiveFailures.Add(1)
		if cb.transition(StateHalfOpen, StateOpen) {
			cb.openedAt.Store(time.Now().UnixNano())
		}
	default:
		cb.consecutiveFailures.Add(1)
	}
}

// transition moves the state machine from one state to another. The CAS
// guarantees a single winner when callers race on the same edge.
func (cb *CircuitBreaker) transition(from, to CircuitState) bool {
	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", from.String(),
		"to", to.String(),
	)
	return true
}

// CircuitBreakerError represents an error when the circuit breaker rejects a call
type CircuitBreakerError struct {
	Name  string
	State CircuitState
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State.String())
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
