package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/queue"
	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/executor"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/security"
)

// MockStore is a mock implementation of the store interface
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) CreateTestRun(ctx context.Context, run *store.TestRunRecord) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) GetTestRun(ctx context.Context, id uuid.UUID) (*store.TestRunRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.TestRunRecord), args.Error(1)
}

func (m *MockStore) GetLatestTestRun(ctx context.Context, testID string) (*store.TestRunRecord, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.TestRunRecord), args.Error(1)
}

func (m *MockStore) MarkTestRunStarted(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) FinishTestRun(ctx context.Context, run *store.TestRunRecord) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) UpdateTestRunStatus(ctx context.Context, id uuid.UUID, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockStore) DeleteTestRun(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) ListTestRuns(ctx context.Context, filter *store.RunFilter, pagination *store.Pagination) ([]*store.TestRunRecord, int64, error) {
	args := m.Called(ctx, filter, pagination)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*store.TestRunRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockStore) SummarizeTestRuns(ctx context.Context, environment string) (*store.RunSummary, error) {
	args := m.Called(ctx, environment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.RunSummary), args.Error(1)
}

func (m *MockStore) PruneFinishedRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) CreateStepResults(ctx context.Context, results []*store.StepResultRecord) error {
	args := m.Called(ctx, results)
	return args.Error(0)
}

func (m *MockStore) GetStepResults(ctx context.Context, runID uuid.UUID) ([]*store.StepResultRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.StepResultRecord), args.Error(1)
}

func (m *MockStore) CreateRecoveryEvent(ctx context.Context, event *store.RecoveryEventRecord) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) GetRecoveryEvents(ctx context.Context, runID uuid.UUID) ([]*store.RecoveryEventRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.RecoveryEventRecord), args.Error(1)
}

// MockQueue is a mock implementation of the queue interface
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, job *queue.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockQueue) Dequeue(ctx context.Context, workerID string) (*queue.Job, error) {
	args := m.Called(ctx, workerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *MockQueue) Complete(ctx context.Context, jobID string, result *queue.JobResult) error {
	args := m.Called(ctx, jobID, result)
	return args.Error(0)
}

func (m *MockQueue) Fail(ctx context.Context, jobID string, errorMsg string) error {
	args := m.Called(ctx, jobID, errorMsg)
	return args.Error(0)
}

func (m *MockQueue) Cancel(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockQueue) GetJob(ctx context.Context, jobID string) (*queue.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *MockQueue) ListJobs(ctx context.Context, filter queue.JobFilter, limit, offset int) ([]*queue.Job, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*queue.Job), args.Error(1)
}

func (m *MockQueue) GetStats(ctx context.Context) (*queue.JobStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.JobStats), args.Error(1)
}

func (m *MockQueue) Cleanup(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Test helper functions
func setupTestService(t *testing.T) (*Service, *MockStore, *MockQueue, *stubExecutor) {
	t.Helper()

	mockStore := &MockStore{}
	mockQueue := &MockQueue{}

	eng := NewEngine(DefaultConfig())
	stub := newStubExecutor("stub-http", "http")
	require.NoError(t, eng.RegisterExecutor(stub))

	config := DefaultServiceConfig()
	config.WorkerCount = 1

	service := NewService(mockStore, mockQueue, eng, nil, config)

	return service, mockStore, mockQueue, stub
}

func submitRequest(testID string, steps ...executor.TestStep) *SubmitRequest {
	return &SubmitRequest{
		Plan:     testPlan(testID, steps...),
		Priority: 5,
	}
}

func TestNewService(t *testing.T) {
	service, _, _, _ := setupTestService(t)

	assert.NotNil(t, service)
	assert.NotNil(t, service.config)
	assert.Equal(t, 1, service.config.WorkerCount)
	assert.False(t, service.running)
}

func TestNewService_DefaultConfig(t *testing.T) {
	service := NewService(&MockStore{}, &MockQueue{}, NewEngine(DefaultConfig()), nil, nil)

	assert.Equal(t, 100, service.config.MaxConcurrentRuns)
	assert.Equal(t, 10*time.Minute, service.config.RunTimeout)
	assert.Equal(t, 5, service.config.WorkerCount)
	assert.NotNil(t, service.recovery)
}

func TestService_SubmitTest_Success(t *testing.T) {
	service, mockStore, mockQueue, _ := setupTestService(t)
	ctx := context.Background()

	req := &SubmitRequest{
		Plan:              testPlan("order-flow-1", httpStep("create-order"), httpStep("verify-order")),
		Priority:          7,
		RollbackOnFailure: true,
		Tags:              []string{"smoke", "orders"},
	}

	var enqueued *queue.Job
	mockStore.On("CreateTestRun", ctx, mock.AnythingOfType("*store.TestRunRecord")).Return(nil)
	mockQueue.On("Enqueue", ctx, mock.AnythingOfType("*queue.Job")).Run(func(args mock.Arguments) {
		enqueued = args.Get(1).(*queue.Job)
	}).Return(nil)

	record, err := service.SubmitTest(ctx, req)

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "order-flow-1", record.TestID)
	assert.Equal(t, store.RunStatusQueued, record.Status)
	assert.Equal(t, 7, record.Priority)
	assert.Equal(t, 2, record.TotalSteps)
	assert.NotEmpty(t, record.CorrelationID)
	assert.NotEmpty(t, record.Plan)

	require.NotNil(t, enqueued)
	assert.Equal(t, JobTypeTestRun, enqueued.Type)
	assert.Equal(t, queue.PriorityMedium, enqueued.Priority)
	assert.Equal(t, record.ID.String(), enqueued.Payload["run_id"])
	assert.Equal(t, "order-flow-1", enqueued.Payload["test_id"])
	assert.Equal(t, true, enqueued.Payload["rollback_on_failure"])
	assert.Equal(t, service.config.RunTimeout, enqueued.Metadata.Timeout)
	assert.Equal(t, 0, enqueued.Metadata.MaxRetries)
	assert.Equal(t, []string{"smoke", "orders"}, enqueued.Metadata.Tags)

	mockStore.AssertExpectations(t)
	mockQueue.AssertExpectations(t)
}

func TestService_SubmitTest_SealsSensitiveParameters(t *testing.T) {
	service, mockStore, mockQueue, _ := setupTestService(t)
	service.SetPlanCipher(security.NewEncryptionService("test-key"))
	ctx := context.Background()

	step := httpStep("login")
	step.Parameters = map[string]interface{}{
		"url":      "https://auth.internal/login",
		"password": "hunter2",
	}

	req := &SubmitRequest{Plan: testPlan("auth-flow-1", step)}

	mockStore.On("CreateTestRun", ctx, mock.AnythingOfType("*store.TestRunRecord")).Return(nil)
	mockQueue.On("Enqueue", ctx, mock.AnythingOfType("*queue.Job")).Return(nil)

	record, err := service.SubmitTest(ctx, req)
	require.NoError(t, err)

	var stored TestExecutionPlan
	require.NoError(t, json.Unmarshal(record.Plan, &stored))
	require.Len(t, stored.Steps, 1)

	// The stored plan holds ciphertext, the caller's plan is untouched
	assert.NotEqual(t, "hunter2", stored.Steps[0].Parameters["password"])
	assert.Equal(t, "https://auth.internal/login", stored.Steps[0].Parameters["url"])
	assert.Equal(t, "hunter2", req.Plan.Steps[0].Parameters["password"])

	opened, err := service.openPlan(stored)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", opened.Steps[0].Parameters["password"])
}

func TestService_SubmitTest_ValidationError(t *testing.T) {
	service, mockStore, _, _ := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *SubmitRequest
	}{
		{
			name: "nil request",
			req:  nil,
		},
		{
			name: "missing test ID",
			req: &SubmitRequest{
				Plan: testPlan("", httpStep("s1")),
			},
		},
		{
			name: "no steps",
			req: &SubmitRequest{
				Plan: testPlan("empty-1"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := service.SubmitTest(ctx, tt.req)
			assert.Error(t, err)
			assert.Nil(t, record)
		})
	}

	mockStore.AssertNotCalled(t, "CreateTestRun", mock.Anything, mock.Anything)
}

func TestService_SubmitTest_EnqueueFailureRemovesRecord(t *testing.T) {
	service, mockStore, mockQueue, _ := setupTestService(t)
	ctx := context.Background()

	mockStore.On("CreateTestRun", ctx, mock.AnythingOfType("*store.TestRunRecord")).Return(nil)
	mockQueue.On("Enqueue", ctx, mock.AnythingOfType("*queue.Job")).Return(errors.NewInternalError("redis unavailable"))
	mockStore.On("DeleteTestRun", ctx, mock.AnythingOfType("uuid.UUID")).Return(nil)

	record, err := service.SubmitTest(ctx, submitRequest("checkout-1", httpStep("s1")))

	require.Error(t, err)
	assert.Nil(t, record)
	assert.Contains(t, err.Error(), "failed to enqueue test run")

	mockStore.AssertExpectations(t)
	mockQueue.AssertExpectations(t)
}

func TestService_SubmitTest_ConcurrencyLimit(t *testing.T) {
	service, mockStore, _, _ := setupTestService(t)
	service.config.MaxConcurrentRuns = 0
	ctx := context.Background()

	record, err := service.SubmitTest(ctx, submitRequest("limited-1", httpStep("s1")))

	require.Error(t, err)
	assert.Nil(t, record)
	assert.Contains(t, err.Error(), "maximum concurrent runs reached")
	mockStore.AssertNotCalled(t, "CreateTestRun", mock.Anything, mock.Anything)
}

func TestService_CancelRun_QueuedRecord(t *testing.T) {
	service, mockStore, _, _ := setupTestService(t)
	ctx := context.Background()

	record := &store.TestRunRecord{
		ID:          uuid.New(),
		TestID:      "queued-1",
		Environment: "staging",
		Status:      store.RunStatusQueued,
	}

	mockStore.On("GetLatestTestRun", ctx, "queued-1").Return(record, nil)
	mockStore.On("UpdateTestRunStatus", ctx, record.ID, store.RunStatusCancelled).Return(nil)

	err := service.CancelRun(ctx, "queued-1")

	require.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestService_CancelRun_FinishedRecord(t *testing.T) {
	service, mockStore, _, _ := setupTestService(t)
	ctx := context.Background()

	record := &store.TestRunRecord{
		ID:     uuid.New(),
		TestID: "done-1",
		Status: store.RunStatusPassed,
	}
	mockStore.On("GetLatestTestRun", ctx, "done-1").Return(record, nil)

	err := service.CancelRun(ctx, "done-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be cancelled")
	mockStore.AssertNotCalled(t, "UpdateTestRunStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_CancelRun_UnknownRun(t *testing.T) {
	service, mockStore, _, _ := setupTestService(t)
	ctx := context.Background()

	mockStore.On("GetLatestTestRun", ctx, "ghost-1").Return(nil, errors.NewNotFoundError("test run"))

	err := service.CancelRun(ctx, "ghost-1")

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestService_CancelRun_ActiveRun(t *testing.T) {
	service, mockStore, _, stub := setupTestService(t)
	ctx := context.Background()

	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)

	stub.execute = func(execCtx context.Context, step executor.TestStep, testCtx *executor.TestContext) (*executor.StepResult, error) {
		close(started)
		<-block
		return &executor.StepResult{StepID: step.ID, Status: executor.StepStatusPassed}, nil
	}

	long := httpStep("s1")
	long.Timeout = 10 * time.Second

	ec, err := service.engine.StartTest(ctx, testPlan("active-1", long))
	require.NoError(t, err)
	<-started

	require.NoError(t, service.CancelRun(ctx, "active-1"))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	result, err := ec.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, TestStatusCancelled, result.Status)

	// An active run is cancelled through the engine, not the store
	mockStore.AssertNotCalled(t, "GetLatestTestRun", mock.Anything, mock.Anything)
}

func TestService_PauseResumeRun(t *testing.T) {
	service, _, _, stub := setupTestService(t)
	ctx := context.Background()

	firstStarted := make(chan struct{})
	release := make(chan struct{})
	stub.execute = func(execCtx context.Context, step executor.TestStep, testCtx *executor.TestContext) (*executor.StepResult, error) {
		if step.ID == "s1" {
			close(firstStarted)
			<-release
		}
		return &executor.StepResult{StepID: step.ID, Status: executor.StepStatusPassed}, nil
	}

	ec, err := service.engine.StartTest(ctx, testPlan("pausable-1", httpStep("s1"), httpStep("s2")))
	require.NoError(t, err)
	<-firstStarted

	require.NoError(t, service.PauseRun(ctx, "pausable-1"))
	close(release)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, TestStatusPaused, service.engine.GetExecutionStatus("pausable-1"))

	require.NoError(t, service.ResumeRun(ctx, "pausable-1"))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	result, err := ec.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, TestStatusPassed, result.Status)
}

func TestService_ListRuns(t *testing.T) {
	service, mockStore, _, _ := setupTestService(t)
	ctx := context.Background()

	expected := []*store.TestRunRecord{
		{ID: uuid.New(), TestID: "a"},
		{ID: uuid.New(), TestID: "b"},
	}
	filter := &store.RunFilter{Environment: "staging"}
	pagination := store.DefaultPagination()

	mockStore.On("ListTestRuns", ctx, filter, pagination).Return(expected, int64(2), nil)

	runs, total, err := service.ListRuns(ctx, filter, pagination)

	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, runs, 2)
	mockStore.AssertExpectations(t)
}

func TestService_GetServiceStats(t *testing.T) {
	service, _, mockQueue, _ := setupTestService(t)
	ctx := context.Background()

	mockQueue.On("GetStats", ctx).Return(&queue.JobStats{
		Total: 12,
		ByStatus: map[queue.JobStatus]int64{
			queue.JobStatusQueued:    3,
			queue.JobStatusCompleted: 8,
			queue.JobStatusFailed:    1,
		},
	}, nil)

	stats, err := service.GetServiceStats(ctx)

	require.NoError(t, err)
	assert.Equal(t, "stopped", stats.Status)
	assert.Equal(t, 0, stats.WorkerCount)
	assert.Equal(t, int64(3), stats.QueuedJobs)
	assert.Equal(t, int64(8), stats.CompletedJobs)
	assert.Equal(t, int64(1), stats.FailedJobs)
}

func TestService_StartStop(t *testing.T) {
	service, _, mockQueue, _ := setupTestService(t)
	ctx := context.Background()

	mockQueue.On("Dequeue", mock.Anything, mock.Anything).Return(nil, errors.NewNotFoundError("job"))
	mockQueue.On("GetStats", mock.Anything).Return(&queue.JobStats{ByStatus: map[queue.JobStatus]int64{}}, nil)

	require.NoError(t, service.Start(ctx))
	assert.True(t, service.running)

	err := service.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	stats, err := service.GetServiceStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", stats.Status)
	assert.Equal(t, 1, stats.WorkerCount)

	require.NoError(t, service.Stop(ctx))
	assert.False(t, service.running)

	// Stopping an already stopped service is a no-op
	require.NoError(t, service.Stop(ctx))
}

func TestService_Health(t *testing.T) {
	service, mockStore, _, _ := setupTestService(t)
	ctx := context.Background()

	mockStore.On("Health", ctx).Return(nil).Once()
	require.NoError(t, service.Health(ctx))

	mockStore.On("Health", ctx).Return(errors.NewInternalError("connection lost")).Once()
	err := service.Health(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store health check failed")
}

func TestMapPriority(t *testing.T) {
	tests := []struct {
		priority int
		expected queue.Priority
	}{
		{0, queue.PriorityLow},
		{4, queue.PriorityLow},
		{5, queue.PriorityMedium},
		{9, queue.PriorityMedium},
		{10, queue.PriorityHigh},
		{99, queue.PriorityHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, mapPriority(tt.priority))
	}
}
