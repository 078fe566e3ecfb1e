package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/engine"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/report"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/config"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/resilience"
)

// MockExecutionService is a mock implementation of engine.ExecutionService
type MockExecutionService struct {
	mock.Mock
}

func (m *MockExecutionService) SubmitTest(ctx context.Context, req *engine.SubmitRequest) (*store.TestRunRecord, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.TestRunRecord), args.Error(1)
}

func (m *MockExecutionService) GetRun(ctx context.Context, runID uuid.UUID) (*store.TestRunRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.TestRunRecord), args.Error(1)
}

func (m *MockExecutionService) GetRunStatus(ctx context.Context, runID uuid.UUID) (*engine.RunStatusInfo, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.RunStatusInfo), args.Error(1)
}

func (m *MockExecutionService) GetRunSteps(ctx context.Context, runID uuid.UUID) ([]*store.StepResultRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.StepResultRecord), args.Error(1)
}

func (m *MockExecutionService) GetRunRecovery(ctx context.Context, runID uuid.UUID) ([]*store.RecoveryEventRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.RecoveryEventRecord), args.Error(1)
}

func (m *MockExecutionService) ListRuns(ctx context.Context, filter *store.RunFilter, pagination *store.Pagination) ([]*store.TestRunRecord, int64, error) {
	args := m.Called(ctx, filter, pagination)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*store.TestRunRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockExecutionService) GetRunSummary(ctx context.Context, environment string) (*store.RunSummary, error) {
	args := m.Called(ctx, environment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.RunSummary), args.Error(1)
}

func (m *MockExecutionService) PauseRun(ctx context.Context, testID string) error {
	args := m.Called(ctx, testID)
	return args.Error(0)
}

func (m *MockExecutionService) ResumeRun(ctx context.Context, testID string) error {
	args := m.Called(ctx, testID)
	return args.Error(0)
}

func (m *MockExecutionService) CancelRun(ctx context.Context, testID string) error {
	args := m.Called(ctx, testID)
	return args.Error(0)
}

func (m *MockExecutionService) GetServiceStats(ctx context.Context) (*engine.ServiceStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.ServiceStats), args.Error(1)
}

func (m *MockExecutionService) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockExecutionService) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockExecutionService) Stop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Test setup helpers

func setupTestRouter(t *testing.T) (*gin.Engine, *MockExecutionService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:     "test-secret",
			JWTExpiration: time.Hour,
		},
	}
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Logging.Level = "info"

	mockSvc := &MockExecutionService{}
	recovery := resilience.NewErrorHandlingService(resilience.DefaultErrorHandlingConfig(), nil, nil)
	reports := report.NewService(&config.ReportConfig{
		OutputDir: t.TempDir(),
		BaseURL:   "http://localhost:8080/exports",
		ExportTTL: time.Hour,
	})

	router := NewRouter(cfg, mockSvc, recovery, reports, nil, nil, nil, nil)
	return router, mockSvc
}

func generateTestJWT(userID uuid.UUID, email, name string) string {
	claims := JWTClaims{
		UserID: userID,
		Email:  email,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte("test-secret"))
	return tokenString
}

func authedRequest(method, path string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+generateTestJWT(uuid.New(), "tester@example.com", "Tester"))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func finishedRunRecord() *store.TestRunRecord {
	started := time.Now().Add(-time.Minute)
	completed := time.Now()

	return &store.TestRunRecord{
		ID:              uuid.New(),
		TestID:          "checkout-flow",
		Name:            "Checkout Flow",
		Environment:     "staging",
		CorrelationID:   "corr-1",
		Status:          store.RunStatusPassed,
		TotalSteps:      2,
		SuccessfulSteps: 2,
		StartedAt:       &started,
		CompletedAt:     &completed,
		DurationMS:      60000,
		CreatedAt:       started,
		UpdatedAt:       completed,
	}
}

func submitRunBody() SubmitRunRequest {
	return SubmitRunRequest{
		TestID:      "checkout-flow",
		Name:        "Checkout Flow",
		Environment: "staging",
		Priority:    5,
		Steps: []StepRequest{
			{
				ID:   "s1",
				Name: "Create order",
				Type: "http_request",
				Parameters: map[string]interface{}{
					"method": "POST",
					"url":    "http://orders/api/orders",
				},
				TimeoutSeconds: 10,
				MaxAttempts:    3,
			},
		},
	}
}

// Tests

func TestAPIVersionEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/api/v1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.NotEmpty(t, response.RequestID)
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router, _ := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Success)
	assert.Equal(t, "UNAUTHORIZED", response.Error.Code)
}

func TestAuthMiddleware_BadToken(t *testing.T) {
	router, _ := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	mockSvc.On("GetServiceStats", mock.Anything).Return(&engine.ServiceStats{
		Status:      "running",
		WorkerCount: 5,
	}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/api/v1/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	mockSvc.AssertExpectations(t)
}

func TestSubmitRun(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	var captured *engine.SubmitRequest
	mockSvc.On("SubmitTest", mock.Anything, mock.AnythingOfType("*engine.SubmitRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*engine.SubmitRequest)
		}).
		Return(finishedRunRecord(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("POST", "/api/v1/runs", submitRunBody()))

	assert.Equal(t, http.StatusAccepted, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)

	require.NotNil(t, captured)
	assert.Equal(t, "checkout-flow", captured.Plan.TestID)
	assert.Equal(t, "staging", captured.Plan.Environment)
	require.Len(t, captured.Plan.Steps, 1)
	assert.Equal(t, "http_request", captured.Plan.Steps[0].Type)
	assert.Equal(t, 10*time.Second, captured.Plan.Steps[0].Timeout)
	assert.Equal(t, 3, captured.Plan.Steps[0].MaxAttempts)
	assert.Equal(t, 5, captured.Priority)

	mockSvc.AssertExpectations(t)
}

func TestSubmitRun_MissingSteps(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	body := submitRunBody()
	body.Steps = nil

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("POST", "/api/v1/runs", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNotCalled(t, "SubmitTest", mock.Anything, mock.Anything)
}

func TestGetRun(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	record := finishedRunRecord()
	mockSvc.On("GetRun", mock.Anything, record.ID).Return(record, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/api/v1/runs/"+record.ID.String(), nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "checkout-flow", data["test_id"])
	assert.Equal(t, store.RunStatusPassed, data["status"])
}

func TestGetRun_NotFound(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	runID := uuid.New()
	mockSvc.On("GetRun", mock.Anything, runID).Return(nil, errors.NewNotFoundError("test run"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/api/v1/runs/"+runID.String(), nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRun_InvalidID(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/api/v1/runs/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRuns(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	var capturedFilter *store.RunFilter
	mockSvc.On("ListRuns", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			capturedFilter = args.Get(1).(*store.RunFilter)
		}).
		Return([]*store.TestRunRecord{finishedRunRecord(), finishedRunRecord()}, int64(42), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/api/v1/runs?status=PASSED&environment=staging&page=2&page_size=10", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	require.NotNil(t, response.Meta)
	require.NotNil(t, response.Meta.Pagination)
	assert.Equal(t, 2, response.Meta.Pagination.Page)
	assert.Equal(t, int64(42), response.Meta.Pagination.Total)
	assert.Equal(t, 5, response.Meta.Pagination.TotalPages)
	assert.True(t, response.Meta.Pagination.HasNext)
	assert.True(t, response.Meta.Pagination.HasPrev)

	require.NotNil(t, capturedFilter)
	assert.Equal(t, "PASSED", capturedFilter.Status)
	assert.Equal(t, "staging", capturedFilter.Environment)
}

func TestListRuns_InvalidSince(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/api/v1/runs?since=yesterday", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelRun(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	record := finishedRunRecord()
	record.Status = store.RunStatusRunning
	mockSvc.On("GetRun", mock.Anything, record.ID).Return(record, nil)
	mockSvc.On("CancelRun", mock.Anything, record.TestID).Return(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("POST", "/api/v1/runs/"+record.ID.String()+"/cancel", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestPauseRun_Conflict(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	record := finishedRunRecord()
	mockSvc.On("GetRun", mock.Anything, record.ID).Return(record, nil)
	mockSvc.On("PauseRun", mock.Anything, record.TestID).
		Return(errors.NewConflictError("test run is not running"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("POST", "/api/v1/runs/"+record.ID.String()+"/pause", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExportRun(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	record := finishedRunRecord()
	mockSvc.On("GetRun", mock.Anything, record.ID).Return(record, nil)
	mockSvc.On("GetRunSteps", mock.Anything, record.ID).Return([]*store.StepResultRecord{}, nil)
	mockSvc.On("GetRunRecovery", mock.Anything, record.ID).Return([]*store.RecoveryEventRecord{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("POST", "/api/v1/runs/"+record.ID.String()+"/export?format=json", nil))

	assert.Equal(t, http.StatusCreated, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "json", data["format"])
	assert.NotEmpty(t, data["url"])
}

func TestExportRun_Unfinished(t *testing.T) {
	router, mockSvc := setupTestRouter(t)

	record := finishedRunRecord()
	record.Status = store.RunStatusRunning
	mockSvc.On("GetRun", mock.Anything, record.ID).Return(record, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("POST", "/api/v1/runs/"+record.ID.String()+"/export", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecoveryStatistics(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/api/v1/recovery/statistics", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "statistics")
	assert.Contains(t, data, "circuit_breakers")
	assert.Contains(t, data, "degradation")
}

func TestUpdateDegradation(t *testing.T) {
	router, _ := setupTestRouter(t)

	body := UpdateDegradationRequest{
		ServiceID: "payments",
		Level:     "moderate",
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("POST", "/api/v1/recovery/degradation", body))

	assert.Equal(t, http.StatusOK, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok)

	services, ok := data["services"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "MODERATE", services["payments"])
}

func TestUpdateDegradation_UnknownLevel(t *testing.T) {
	router, _ := setupTestRouter(t)

	body := UpdateDegradationRequest{Level: "extreme"}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("POST", "/api/v1/recovery/degradation", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFoundEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Success)
	assert.Equal(t, "NOT_FOUND", response.Error.Code)
}
