package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorFormat(t *testing.T) {
	err := NewValidationError("plan is missing steps")
	assert.Equal(t, "VALIDATION_ERROR: plan is missing steps", err.Error())

	withCause := NewInternalError("store write failed").WithCause(fmt.Errorf("disk full"))
	assert.Equal(t, "INTERNAL_ERROR: store write failed (caused by: disk full)", withCause.Error())
	assert.EqualError(t, withCause.Unwrap(), "disk full")
}

func TestAppError_TypeHelpers(t *testing.T) {
	notFound := NewNotFoundError("test run")
	assert.True(t, IsType(notFound, ErrorTypeNotFound))
	assert.False(t, IsType(notFound, ErrorTypeValidation))
	assert.Equal(t, ErrorTypeNotFound, GetType(notFound))
	assert.Equal(t, "NOT_FOUND", GetCode(notFound))
	assert.Equal(t, "test run not found", notFound.Message)

	plain := fmt.Errorf("boom")
	assert.Equal(t, ErrorTypeInternal, GetType(plain))
	assert.Equal(t, "UNKNOWN_ERROR", GetCode(plain))
}

func TestAppError_ExecutionConstructors(t *testing.T) {
	execErr := NewExecutorError("http-executor", "container exited")
	assert.Equal(t, "http-executor", execErr.Details["executor"])
	assert.Equal(t, "EXECUTOR_ERROR", execErr.Code)

	runErr := NewRunError("test-123", "plan rejected")
	assert.Equal(t, "test-123", runErr.Details["test_id"])
	assert.Equal(t, ErrorTypeInternal, runErr.Type)
}
