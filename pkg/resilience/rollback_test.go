package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopAction(id string, priority int) *FuncRollbackAction {
	return NewFuncRollbackAction(id, "test-service", priority, func(ctx context.Context) error {
		return nil
	})
}

func TestFuncRollbackAction(t *testing.T) {
	executed := false
	action := NewFuncRollbackAction("delete-order", "orders", 5, func(ctx context.Context) error {
		executed = true
		return nil
	})

	assert.Equal(t, "delete-order", action.ID())
	assert.Equal(t, "orders", action.ServiceID())
	assert.Equal(t, 5, action.Priority())
	assert.True(t, action.CanExecute())

	require.NoError(t, action.Execute(context.Background()))
	assert.True(t, executed)

	guarded := noopAction("guarded", 1).WithGuard(func() bool { return false })
	assert.False(t, guarded.CanExecute())
}

func TestRollbackManager_ExecutesInPriorityOrder(t *testing.T) {
	rm := NewRollbackManager()

	var order []string
	record := func(id string, priority int) *FuncRollbackAction {
		return NewFuncRollbackAction(id, "test-service", priority, func(ctx context.Context) error {
			order = append(order, id)
			return nil
		})
	}

	rm.Register("test-1", record("low", 1))
	rm.Register("test-1", record("high", 10))
	rm.Register("test-1", record("mid", 5))

	result := rm.ExecuteRollback(context.Background(), "test-1")

	assert.Equal(t, []string{"high", "mid", "low"}, order)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Successful)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, result.IsSuccessful())
}

func TestRollbackManager_TiesKeepRegistrationOrder(t *testing.T) {
	rm := NewRollbackManager()

	var order []string
	record := func(id string) *FuncRollbackAction {
		return NewFuncRollbackAction(id, "test-service", 5, func(ctx context.Context) error {
			order = append(order, id)
			return nil
		})
	}

	rm.Register("test-1", record("first"))
	rm.Register("test-1", record("second"))
	rm.Register("test-1", record("third"))

	rm.ExecuteRollback(context.Background(), "test-1")
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRollbackManager_FailureDoesNotStopOthers(t *testing.T) {
	rm := NewRollbackManager()

	var order []string
	rm.Register("test-1", NewFuncRollbackAction("a", "svc", 3, func(ctx context.Context) error {
		order = append(order, "a")
		return nil
	}))
	rm.Register("test-1", NewFuncRollbackAction("b", "svc", 2, func(ctx context.Context) error {
		order = append(order, "b")
		return errors.New("compensation failed")
	}))
	rm.Register("test-1", NewFuncRollbackAction("c", "svc", 1, func(ctx context.Context) error {
		order = append(order, "c")
		return nil
	}))

	result := rm.ExecuteRollback(context.Background(), "test-1")

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"b"}, result.FailedActions)
	assert.False(t, result.IsSuccessful())
}

func TestRollbackManager_ActionsConsumedOnAttempt(t *testing.T) {
	rm := NewRollbackManager()

	runs := 0
	rm.Register("test-1", NewFuncRollbackAction("flaky", "svc", 1, func(ctx context.Context) error {
		runs++
		return errors.New("always fails")
	}))

	first := rm.ExecuteRollback(context.Background(), "test-1")
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, 0, rm.PendingCount("test-1"))

	// A second pass finds nothing pending; the failed action is not retried
	second := rm.ExecuteRollback(context.Background(), "test-1")
	assert.Equal(t, 0, second.Total)
	assert.True(t, second.IsSuccessful())
	assert.Equal(t, 1, runs)
}

func TestRollbackManager_GuardBlocksExecution(t *testing.T) {
	rm := NewRollbackManager()

	executed := false
	action := NewFuncRollbackAction("guarded", "svc", 1, func(ctx context.Context) error {
		executed = true
		return nil
	}).WithGuard(func() bool { return false })

	rm.Register("test-1", action)
	result := rm.ExecuteRollback(context.Background(), "test-1")

	assert.False(t, executed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"guarded"}, result.FailedActions)
}

func TestRollbackManager_PanicCountsAsFailure(t *testing.T) {
	rm := NewRollbackManager()

	rm.Register("test-1", NewFuncRollbackAction("panicky", "svc", 2, func(ctx context.Context) error {
		panic("boom")
	}))
	rm.Register("test-1", noopAction("steady", 1))

	result := rm.ExecuteRollback(context.Background(), "test-1")

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"panicky"}, result.FailedActions)
}

func TestRollbackManager_ForServicesLeavesRestRegistered(t *testing.T) {
	rm := NewRollbackManager()

	var order []string
	record := func(id, serviceID string) *FuncRollbackAction {
		return NewFuncRollbackAction(id, serviceID, 1, func(ctx context.Context) error {
			order = append(order, id)
			return nil
		})
	}

	rm.Register("test-1", record("undo-payment", "payments"))
	rm.Register("test-1", record("undo-order", "orders"))
	rm.Register("test-1", record("undo-refund", "payments"))

	result := rm.ExecuteRollbackForServices(context.Background(), "test-1", []string{"payments"})

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, []string{"undo-payment", "undo-refund"}, order)
	assert.Equal(t, 1, rm.PendingCount("test-1"))

	// The untouched action is still there for a full pass
	rest := rm.ExecuteRollback(context.Background(), "test-1")
	assert.Equal(t, 1, rest.Total)
	assert.Equal(t, []string{"undo-payment", "undo-refund", "undo-order"}, order)
}

func TestRollbackManager_TestsAreIndependent(t *testing.T) {
	rm := NewRollbackManager()

	rm.Register("test-1", noopAction("a", 1))
	rm.Register("test-2", noopAction("b", 1))
	rm.Register("test-2", noopAction("c", 2))

	assert.Equal(t, 2, rm.TestsWithActions())
	assert.Equal(t, 1, rm.PendingCount("test-1"))
	assert.Equal(t, 2, rm.PendingCount("test-2"))

	result := rm.ExecuteRollback(context.Background(), "test-2")
	assert.Equal(t, 2, result.Total)

	// test-1 is untouched
	assert.Equal(t, 1, rm.TestsWithActions())
	assert.Equal(t, 1, rm.PendingCount("test-1"))
}

func TestRollbackManager_Clear(t *testing.T) {
	rm := NewRollbackManager()

	executed := false
	rm.Register("test-1", NewFuncRollbackAction("a", "svc", 1, func(ctx context.Context) error {
		executed = true
		return nil
	}))

	rm.Clear("test-1")
	assert.Equal(t, 0, rm.PendingCount("test-1"))

	result := rm.ExecuteRollback(context.Background(), "test-1")
	assert.Equal(t, 0, result.Total)
	assert.False(t, executed)
}

func TestRollbackManager_UnknownTest(t *testing.T) {
	rm := NewRollbackManager()

	result := rm.ExecuteRollback(context.Background(), "never-registered")
	assert.Equal(t, 0, result.Total)
	assert.True(t, result.IsSuccessful())
	assert.Equal(t, "never-registered", result.TestID)
}
