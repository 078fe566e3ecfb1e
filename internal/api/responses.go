package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/engine"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error with enhanced details support
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Meta represents response metadata with enhanced pagination support
type Meta struct {
	Pagination *Pagination `json:"pagination,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Pagination represents pagination metadata
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

func requestIDFrom(c *gin.Context) string {
	requestID, exists := c.Get("request_id")
	if !exists {
		return ""
	}
	if id, ok := requestID.(string); ok {
		return id
	}
	return ""
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// SuccessResponseWithMeta sends a successful response with metadata
func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta *Meta) {
	if meta != nil {
		meta.Timestamp = time.Now()
	}

	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		Meta:      meta,
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// CreatedResponse sends a 201 Created response
func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// AcceptedResponse sends a 202 Accepted response for queued work
func AcceptedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// ErrorResponseFromError sends an error response based on the error type
func ErrorResponseFromError(c *gin.Context, err error) {
	var statusCode int
	var apiError *APIError

	switch e := err.(type) {
	case *errors.AppError:
		switch e.Type {
		case errors.ErrorTypeValidation:
			statusCode = http.StatusBadRequest
		case errors.ErrorTypeAuthentication:
			statusCode = http.StatusUnauthorized
		case errors.ErrorTypeAuthorization:
			statusCode = http.StatusForbidden
		case errors.ErrorTypeNotFound:
			statusCode = http.StatusNotFound
		case errors.ErrorTypeConflict:
			statusCode = http.StatusConflict
		case errors.ErrorTypeRateLimit:
			statusCode = http.StatusTooManyRequests
		case errors.ErrorTypeTimeout:
			statusCode = http.StatusRequestTimeout
		default:
			statusCode = http.StatusInternalServerError
		}

		apiError = &APIError{
			Code:    e.Code,
			Message: e.Message,
		}

		if len(e.Details) > 0 {
			apiError.Details = make(map[string]interface{})
			for k, v := range e.Details {
				apiError.Details[k] = v
			}
		}
	default:
		statusCode = http.StatusInternalServerError
		apiError = &APIError{
			Code:    "UNKNOWN_ERROR",
			Message: "An unknown error occurred",
		}
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Error:     apiError,
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// BadRequestResponse sends a 400 Bad Request response
func BadRequestResponse(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    "BAD_REQUEST",
			Message: message,
		},
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// UnauthorizedResponse sends a 401 Unauthorized response
func UnauthorizedResponse(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    "UNAUTHORIZED",
			Message: message,
		},
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// NotFoundResponse sends a 404 Not Found response
func NotFoundResponse(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    "NOT_FOUND",
			Message: message,
		},
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// InternalErrorResponse sends a 500 Internal Server Error response
func InternalErrorResponse(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    "INTERNAL_ERROR",
			Message: message,
		},
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// TooManyRequestsResponse sends a 429 Too Many Requests response
func TooManyRequestsResponse(c *gin.Context, message string) {
	c.JSON(http.StatusTooManyRequests, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    "RATE_LIMIT_EXCEEDED",
			Message: message,
		},
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// Helper functions for pagination

// NewPagination creates a new pagination metadata object
func NewPagination(page, pageSize int, total int64) *Pagination {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// NewMetaWithPagination creates a new Meta object with pagination
func NewMetaWithPagination(page, pageSize int, total int64) *Meta {
	return &Meta{
		Pagination: NewPagination(page, pageSize, total),
		Timestamp:  time.Now(),
	}
}

// PaginatedResponse sends a successful response with pagination metadata
func PaginatedResponse(c *gin.Context, data interface{}, page, pageSize int, total int64) {
	SuccessResponseWithMeta(c, data, NewMetaWithPagination(page, pageSize, total))
}

// DTO types for API requests and responses

// SubmitRunRequest represents a request to submit a test run
type SubmitRunRequest struct {
	TestID            string            `json:"test_id" binding:"required"`
	Name              string            `json:"name"`
	Environment       string            `json:"environment" binding:"required"`
	Priority          int               `json:"priority" binding:"min=0,max=10"`
	FailFast          bool              `json:"fail_fast"`
	RollbackOnFailure bool              `json:"rollback_on_failure"`
	ServiceEndpoints  map[string]string `json:"service_endpoints"`
	Tags              []string          `json:"tags"`
	Steps             []StepRequest     `json:"steps" binding:"required,min=1"`
}

// StepRequest represents one step of a submitted test plan
type StepRequest struct {
	ID              string                 `json:"id" binding:"required"`
	Name            string                 `json:"name"`
	Type            string                 `json:"type" binding:"required"`
	ServiceID       string                 `json:"service_id"`
	Parameters      map[string]interface{} `json:"parameters"`
	ExpectedOutcome map[string]interface{} `json:"expected_outcome"`
	TimeoutSeconds  int                    `json:"timeout_seconds" binding:"min=0"`
	MaxAttempts     int                    `json:"max_attempts" binding:"min=0,max=10"`
	RetryDelayMS    int                    `json:"retry_delay_ms" binding:"min=0"`
	StopOnFailure   bool                   `json:"stop_on_failure"`
}

// UpdateDegradationRequest represents a request to change degradation levels
type UpdateDegradationRequest struct {
	ServiceID string `json:"service_id"`
	Level     string `json:"level"`
	Reset     bool   `json:"reset"`
}

// TestRunDTO represents a test run in API responses
type TestRunDTO struct {
	ID                uuid.UUID  `json:"id"`
	TestID            string     `json:"test_id"`
	Name              string     `json:"name"`
	Environment       string     `json:"environment"`
	CorrelationID     string     `json:"correlation_id"`
	Priority          int        `json:"priority"`
	Status            string     `json:"status"`
	TotalSteps        int        `json:"total_steps"`
	SuccessfulSteps   int        `json:"successful_steps"`
	FailedSteps       int        `json:"failed_steps"`
	SkippedSteps      int        `json:"skipped_steps"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	RecoveryApplied   bool       `json:"recovery_applied"`
	RollbackPerformed bool       `json:"rollback_performed"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	DurationMS        int64      `json:"duration_ms"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// StepResultDTO represents a step result in API responses
type StepResultDTO struct {
	StepID       string                 `json:"step_id"`
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	ServiceID    string                 `json:"service_id,omitempty"`
	Index        int                    `json:"index"`
	Status       string                 `json:"status"`
	Attempts     int                    `json:"attempts"`
	Output       map[string]interface{} `json:"output,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  time.Time              `json:"completed_at"`
	DurationMS   int64                  `json:"duration_ms"`
}

// RecoveryEventDTO represents a recovery event in API responses
type RecoveryEventDTO struct {
	ID                 uuid.UUID `json:"id"`
	FailureType        string    `json:"failure_type"`
	FailureSeverity    string    `json:"failure_severity"`
	DegradationApplied bool      `json:"degradation_applied"`
	DegradationLevel   string    `json:"degradation_level"`
	RollbackPerformed  bool      `json:"rollback_performed"`
	RollbackSucceeded  *bool     `json:"rollback_succeeded,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Conversion functions

// ToTestRunDTO converts a stored run record to its API representation
func ToTestRunDTO(run *store.TestRunRecord) *TestRunDTO {
	return &TestRunDTO{
		ID:                run.ID,
		TestID:            run.TestID,
		Name:              run.Name,
		Environment:       run.Environment,
		CorrelationID:     run.CorrelationID,
		Priority:          run.Priority,
		Status:            run.Status,
		TotalSteps:        run.TotalSteps,
		SuccessfulSteps:   run.SuccessfulSteps,
		FailedSteps:       run.FailedSteps,
		SkippedSteps:      run.SkippedSteps,
		FailureReason:     run.FailureReason,
		RecoveryApplied:   run.RecoveryApplied,
		RollbackPerformed: run.RollbackPerformed,
		StartedAt:         run.StartedAt,
		CompletedAt:       run.CompletedAt,
		DurationMS:        run.DurationMS,
		CreatedAt:         run.CreatedAt,
		UpdatedAt:         run.UpdatedAt,
	}
}

// ToStepResultDTO converts a stored step result to its API representation.
// Stored step output is raw JSON and is decoded for the response.
func ToStepResultDTO(step *store.StepResultRecord) *StepResultDTO {
	dto := &StepResultDTO{
		StepID:       step.StepID,
		Name:         step.StepName,
		Type:         step.StepType,
		ServiceID:    step.ServiceID,
		Index:        step.StepIndex,
		Status:       step.Status,
		Attempts:     step.Attempts,
		ErrorMessage: step.ErrorMessage,
		StartedAt:    step.StartedAt,
		CompletedAt:  step.CompletedAt,
		DurationMS:   step.DurationMS,
	}

	if len(step.Output) > 0 {
		var output map[string]interface{}
		if err := json.Unmarshal(step.Output, &output); err == nil {
			dto.Output = output
		}
	}

	return dto
}

// ToRecoveryEventDTO converts a stored recovery event to its API representation
func ToRecoveryEventDTO(event *store.RecoveryEventRecord) *RecoveryEventDTO {
	return &RecoveryEventDTO{
		ID:                 event.ID,
		FailureType:        event.FailureType,
		FailureSeverity:    event.FailureSeverity,
		DegradationApplied: event.DegradationApplied,
		DegradationLevel:   event.DegradationLevel,
		RollbackPerformed:  event.RollbackPerformed,
		RollbackSucceeded:  event.RollbackSucceeded,
		CreatedAt:          event.CreatedAt,
	}
}

// ToSubmitRequest converts an API submission to the engine's request form
func (r *SubmitRunRequest) ToSubmitRequest() *engine.SubmitRequest {
	steps := make([]executor.TestStep, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = executor.TestStep{
			ID:              s.ID,
			Name:            s.Name,
			Type:            s.Type,
			ServiceID:       s.ServiceID,
			Parameters:      s.Parameters,
			ExpectedOutcome: s.ExpectedOutcome,
			Timeout:         time.Duration(s.TimeoutSeconds) * time.Second,
			MaxAttempts:     s.MaxAttempts,
			RetryDelay:      time.Duration(s.RetryDelayMS) * time.Millisecond,
			StopOnFailure:   s.StopOnFailure,
		}
	}

	return &engine.SubmitRequest{
		Plan: engine.TestExecutionPlan{
			TestID:           r.TestID,
			Name:             r.Name,
			Environment:      r.Environment,
			Steps:            steps,
			ServiceEndpoints: r.ServiceEndpoints,
			Config: engine.TestConfiguration{
				FailFast: r.FailFast,
			},
		},
		Priority:          r.Priority,
		RollbackOnFailure: r.RollbackOnFailure,
		Tags:              r.Tags,
	}
}
