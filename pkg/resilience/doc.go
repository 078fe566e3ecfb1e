// Package resilience provides comprehensive error handling, circuit breaker,
// retry logic, graceful degradation, and rollback capabilities for the
// IntelliQA test platform.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// The circuit breaker pattern prevents cascading failures by tracking
// consecutive failures of calls into a service and temporarily rejecting
// requests once a threshold is reached.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "payments",
//		FailureThreshold: 5,
//		RecoveryTimeout:  30 * time.Second,
//		SuccessThreshold: 2,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return paymentService.Call(ctx, data)
//	})
//
// # Retry with Exponential Backoff
//
// The retry mechanism automatically retries failed operations with
// exponential backoff and jitter to avoid thundering herd problems. Only
// transient failures (timeouts and connection errors by default) are
// retried, and the outcome reports how many attempts were spent.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	outcome, err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Graceful Degradation
//
// The degradation system tracks per-service and global degradation levels
// and, when an operation fails, picks the least severe registered strategy
// (cached results, static responses, skipping, load shedding) that can
// stand in for it.
//
//	dm := resilience.NewGracefulDegradationManager()
//	dm.RegisterStrategy(resilience.NewCachedResultStrategy(5*time.Minute, "get_balance"))
//
//	result, err := dm.ExecuteWithDegradation(ctx, "get_balance", "payments", origErr, nil)
//
// # Rollback
//
// Rollback actions registered per test run are executed highest priority
// first when a test fails, restoring the environment to a known state.
//
//	rm := resilience.NewRollbackManager()
//	rm.Register(testID, resilience.NewFuncRollbackAction("drop-fixtures", "orders", 10, cleanup))
//	result := rm.ExecuteRollback(ctx, testID)
//
// # Error Alerting
//
// The alerting system generates and routes alerts based on error
// classification, circuit breaker transitions, and degradation changes.
//
//	am := resilience.NewAlertManager()
//	am.AddHandler(resilience.NewLoggingAlertHandler())
//
//	eag := resilience.NewErrorAlertGenerator(am)
//	eag.HandleError(ctx, err, "service-name", metadata)
//
// # Combined Usage
//
// ErrorHandlingService ties the patterns together: a per-service circuit
// breaker on the outside, retry inside it, degradation as the fallback, and
// rollback plus degradation escalation when a test failure is reported.
//
//	svc := resilience.NewErrorHandlingService(resilience.DefaultErrorHandlingConfig(), nil, nil)
//	result, err := svc.ExecuteWithErrorHandling(ctx, "get_balance", "payments", op, nil, nil)
//
//	outcome := svc.HandleTestFailure(ctx, testID, failure)
//
// The package is designed to be thread-safe and can handle high-concurrency
// scenarios typical in distributed systems.
package resilience
