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
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/resilience"
)

func setupTestWorker(t *testing.T) (*Worker, *Service, *MockStore, *MockQueue, *stubExecutor) {
	t.Helper()
	service, mockStore, mockQueue, stub := setupTestService(t)
	worker := NewWorker("worker-test", service)
	return worker, service, mockStore, mockQueue, stub
}

func storedRun(t *testing.T, plan TestExecutionPlan) *store.TestRunRecord {
	t.Helper()
	planJSON, err := json.Marshal(plan)
	require.NoError(t, err)

	return &store.TestRunRecord{
		ID:            uuid.New(),
		TestID:        plan.TestID,
		Name:          plan.Name,
		Environment:   plan.Environment,
		CorrelationID: "corr-test",
		Status:        store.RunStatusQueued,
		Plan:          planJSON,
		TotalSteps:    len(plan.Steps),
	}
}

func runJob(record *store.TestRunRecord, rollbackOnFailure bool) *queue.Job {
	return queue.NewJob(JobTypeTestRun, queue.PriorityMedium, map[string]interface{}{
		"run_id":              record.ID.String(),
		"test_id":             record.TestID,
		"environment":         record.Environment,
		"rollback_on_failure": rollbackOnFailure,
	})
}

func TestNewWorker(t *testing.T) {
	worker, _, _, _, _ := setupTestWorker(t)

	stats := worker.GetStats()
	assert.Equal(t, "worker-test", stats.WorkerID)
	assert.Equal(t, int64(0), stats.JobsProcessed)
	assert.Equal(t, int64(0), stats.JobsFailed)
	assert.Nil(t, stats.LastJobAt)
}

func TestWorker_ProcessJob_Success(t *testing.T) {
	worker, _, mockStore, mockQueue, _ := setupTestWorker(t)
	ctx := context.Background()

	plan := testPlan("order-flow-1", httpStep("create-order"), httpStep("verify-order"))
	record := storedRun(t, plan)
	job := runJob(record, false)

	var finished *store.TestRunRecord
	var steps []*store.StepResultRecord
	var jobResult *queue.JobResult

	mockStore.On("GetTestRun", ctx, record.ID).Return(record, nil)
	mockStore.On("MarkTestRunStarted", ctx, record.ID).Return(nil)
	mockStore.On("FinishTestRun", ctx, mock.AnythingOfType("*store.TestRunRecord")).Run(func(args mock.Arguments) {
		finished = args.Get(1).(*store.TestRunRecord)
	}).Return(nil)
	mockStore.On("CreateStepResults", ctx, mock.AnythingOfType("[]*store.StepResultRecord")).Run(func(args mock.Arguments) {
		steps = args.Get(1).([]*store.StepResultRecord)
	}).Return(nil)
	mockQueue.On("Complete", ctx, job.ID, mock.AnythingOfType("*queue.JobResult")).Run(func(args mock.Arguments) {
		jobResult = args.Get(2).(*queue.JobResult)
	}).Return(nil)

	worker.processJob(ctx, job)

	require.NotNil(t, finished)
	assert.Equal(t, store.RunStatusPassed, finished.Status)
	assert.Equal(t, 2, finished.SuccessfulSteps)
	assert.Equal(t, 0, finished.FailedSteps)
	assert.NotNil(t, finished.StartedAt)
	assert.NotNil(t, finished.CompletedAt)
	assert.False(t, finished.RecoveryApplied)

	require.Len(t, steps, 2)
	assert.Equal(t, "create-order", steps[0].StepID)
	assert.Equal(t, 0, steps[0].StepIndex)
	assert.Equal(t, "http", steps[0].StepType)
	assert.Equal(t, "orders", steps[0].ServiceID)
	assert.Equal(t, "verify-order", steps[1].StepID)
	assert.Equal(t, 1, steps[1].StepIndex)

	require.NotNil(t, jobResult)
	assert.True(t, jobResult.Success)
	assert.Equal(t, string(TestStatusPassed), jobResult.Result["status"])

	stats := worker.GetStats()
	assert.Equal(t, int64(1), stats.JobsProcessed)
	assert.Equal(t, int64(0), stats.JobsFailed)
	assert.NotNil(t, stats.LastJobAt)

	mockStore.AssertNotCalled(t, "CreateRecoveryEvent", mock.Anything, mock.Anything)
	mockQueue.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
	mockStore.AssertExpectations(t)
	mockQueue.AssertExpectations(t)
}

func TestWorker_ProcessJob_FailureAppliesRecovery(t *testing.T) {
	worker, _, mockStore, mockQueue, stub := setupTestWorker(t)
	ctx := context.Background()

	stub.execute = func(execCtx context.Context, step executor.TestStep, testCtx *executor.TestContext) (*executor.StepResult, error) {
		return &executor.StepResult{
			StepID: step.ID,
			Status: executor.StepStatusFailed,
			Error:  "connection refused to orders:8443",
		}, nil
	}

	plan := testPlan("checkout-1", httpStep("reserve-stock"))
	record := storedRun(t, plan)
	job := runJob(record, true)

	var finished *store.TestRunRecord
	var event *store.RecoveryEventRecord

	mockStore.On("GetTestRun", ctx, record.ID).Return(record, nil)
	mockStore.On("MarkTestRunStarted", ctx, record.ID).Return(nil)
	mockStore.On("FinishTestRun", ctx, mock.AnythingOfType("*store.TestRunRecord")).Run(func(args mock.Arguments) {
		finished = args.Get(1).(*store.TestRunRecord)
	}).Return(nil)
	mockStore.On("CreateStepResults", ctx, mock.AnythingOfType("[]*store.StepResultRecord")).Return(nil)
	mockStore.On("CreateRecoveryEvent", ctx, mock.AnythingOfType("*store.RecoveryEventRecord")).Run(func(args mock.Arguments) {
		event = args.Get(1).(*store.RecoveryEventRecord)
	}).Return(nil)
	mockQueue.On("Complete", ctx, job.ID, mock.AnythingOfType("*queue.JobResult")).Return(nil)

	worker.processJob(ctx, job)

	require.NotNil(t, finished)
	assert.Equal(t, store.RunStatusFailed, finished.Status)
	assert.Equal(t, 1, finished.FailedSteps)
	assert.True(t, finished.RecoveryApplied)
	assert.True(t, finished.RollbackPerformed)
	assert.NotEmpty(t, finished.FailureReason)

	require.NotNil(t, event)
	assert.Equal(t, record.ID, event.RunID)
	assert.Equal(t, "checkout-1", event.TestID)
	assert.Equal(t, "NETWORK_FAILURE", event.FailureType)
	assert.Equal(t, "HIGH", event.FailureSeverity)
	assert.True(t, event.DegradationApplied)
	assert.Equal(t, "MODERATE", event.DegradationLevel)
	assert.True(t, event.RollbackPerformed)
	require.NotNil(t, event.RollbackSucceeded)
	assert.True(t, *event.RollbackSucceeded)
	assert.NotEmpty(t, event.Details)

	// A failed run is still a completed job
	mockQueue.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
	mockStore.AssertExpectations(t)
	mockQueue.AssertExpectations(t)
}

func TestWorker_ProcessJob_PartialSuccessSkipsRollback(t *testing.T) {
	worker, _, mockStore, mockQueue, stub := setupTestWorker(t)
	ctx := context.Background()

	stub.execute = func(execCtx context.Context, step executor.TestStep, testCtx *executor.TestContext) (*executor.StepResult, error) {
		if step.ID == "flaky-check" {
			return &executor.StepResult{
				StepID: step.ID,
				Status: executor.StepStatusFailed,
				Error:  "expected status 200 but got 502",
			}, nil
		}
		return &executor.StepResult{StepID: step.ID, Status: executor.StepStatusPassed}, nil
	}

	plan := testPlan("browse-1", httpStep("open-catalog"), httpStep("flaky-check"))
	record := storedRun(t, plan)
	job := runJob(record, true)

	var finished *store.TestRunRecord
	var event *store.RecoveryEventRecord

	mockStore.On("GetTestRun", ctx, record.ID).Return(record, nil)
	mockStore.On("MarkTestRunStarted", ctx, record.ID).Return(nil)
	mockStore.On("FinishTestRun", ctx, mock.AnythingOfType("*store.TestRunRecord")).Run(func(args mock.Arguments) {
		finished = args.Get(1).(*store.TestRunRecord)
	}).Return(nil)
	mockStore.On("CreateStepResults", ctx, mock.AnythingOfType("[]*store.StepResultRecord")).Return(nil)
	mockStore.On("CreateRecoveryEvent", ctx, mock.AnythingOfType("*store.RecoveryEventRecord")).Run(func(args mock.Arguments) {
		event = args.Get(1).(*store.RecoveryEventRecord)
	}).Return(nil)
	mockQueue.On("Complete", ctx, job.ID, mock.AnythingOfType("*queue.JobResult")).Return(nil)

	worker.processJob(ctx, job)

	require.NotNil(t, finished)
	assert.Equal(t, store.RunStatusPartialSuccess, finished.Status)
	assert.False(t, finished.RollbackPerformed)

	require.NotNil(t, event)
	assert.Equal(t, "BUSINESS_LOGIC_FAILURE", event.FailureType)
	assert.Equal(t, "MEDIUM", event.FailureSeverity)
	assert.False(t, event.RollbackPerformed)
	assert.Nil(t, event.RollbackSucceeded)
}

func TestWorker_ProcessJob_CancelledRecordSkipped(t *testing.T) {
	worker, _, mockStore, mockQueue, stub := setupTestWorker(t)
	ctx := context.Background()

	plan := testPlan("cancelled-1", httpStep("s1"))
	record := storedRun(t, plan)
	record.Status = store.RunStatusCancelled
	job := runJob(record, false)

	mockStore.On("GetTestRun", ctx, record.ID).Return(record, nil)
	mockQueue.On("Complete", ctx, job.ID, mock.AnythingOfType("*queue.JobResult")).Return(nil)

	worker.processJob(ctx, job)

	assert.Equal(t, 0, stub.callCount("s1"))
	mockStore.AssertNotCalled(t, "MarkTestRunStarted", mock.Anything, mock.Anything)
	mockStore.AssertNotCalled(t, "FinishTestRun", mock.Anything, mock.Anything)
	mockStore.AssertExpectations(t)
	mockQueue.AssertExpectations(t)
}

func TestWorker_ProcessJob_UnsupportedType(t *testing.T) {
	worker, _, mockStore, mockQueue, _ := setupTestWorker(t)
	ctx := context.Background()

	job := queue.NewJob("email_digest", queue.PriorityLow, map[string]interface{}{})

	var failMsg string
	mockQueue.On("Fail", ctx, job.ID, mock.AnythingOfType("string")).Run(func(args mock.Arguments) {
		failMsg = args.Get(2).(string)
	}).Return(nil)

	worker.processJob(ctx, job)

	assert.Contains(t, failMsg, "unsupported job type")
	assert.Equal(t, int64(1), worker.GetStats().JobsFailed)
	mockStore.AssertNotCalled(t, "GetTestRun", mock.Anything, mock.Anything)
}

func TestWorker_ProcessJob_InvalidPayload(t *testing.T) {
	worker, _, mockStore, mockQueue, _ := setupTestWorker(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{
			name:    "missing run_id",
			payload: map[string]interface{}{"test_id": "t1"},
		},
		{
			name:    "malformed run_id",
			payload: map[string]interface{}{"run_id": "not-a-uuid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := queue.NewJob(JobTypeTestRun, queue.PriorityLow, tt.payload)

			var failMsg string
			mockQueue.On("Fail", ctx, job.ID, mock.AnythingOfType("string")).Run(func(args mock.Arguments) {
				failMsg = args.Get(2).(string)
			}).Return(nil).Once()

			worker.processJob(ctx, job)
			assert.Contains(t, failMsg, "invalid job payload")
		})
	}

	mockStore.AssertNotCalled(t, "GetTestRun", mock.Anything, mock.Anything)
}

func TestWorker_ProcessJob_RunNotFound(t *testing.T) {
	worker, _, mockStore, mockQueue, _ := setupTestWorker(t)
	ctx := context.Background()

	runID := uuid.New()
	job := queue.NewJob(JobTypeTestRun, queue.PriorityLow, map[string]interface{}{
		"run_id": runID.String(),
	})

	mockStore.On("GetTestRun", ctx, runID).Return(nil, errors.NewNotFoundError("test run"))

	var failMsg string
	mockQueue.On("Fail", ctx, job.ID, mock.AnythingOfType("string")).Run(func(args mock.Arguments) {
		failMsg = args.Get(2).(string)
	}).Return(nil)

	worker.processJob(ctx, job)

	assert.Contains(t, failMsg, "failed to load test run")
	mockStore.AssertExpectations(t)
}

func TestWorker_ProcessJob_CorruptStoredPlan(t *testing.T) {
	worker, _, mockStore, mockQueue, _ := setupTestWorker(t)
	ctx := context.Background()

	record := &store.TestRunRecord{
		ID:     uuid.New(),
		TestID: "broken-1",
		Status: store.RunStatusQueued,
		Plan:   []byte("{not json"),
	}
	job := runJob(record, false)

	var finished *store.TestRunRecord
	mockStore.On("GetTestRun", ctx, record.ID).Return(record, nil)
	mockStore.On("FinishTestRun", ctx, mock.AnythingOfType("*store.TestRunRecord")).Run(func(args mock.Arguments) {
		finished = args.Get(1).(*store.TestRunRecord)
	}).Return(nil)
	mockQueue.On("Fail", ctx, job.ID, mock.AnythingOfType("string")).Return(nil)

	worker.processJob(ctx, job)

	require.NotNil(t, finished)
	assert.Equal(t, store.RunStatusFailed, finished.Status)
	assert.Contains(t, finished.FailureReason, "failed to decode stored plan")
	mockStore.AssertExpectations(t)
	mockQueue.AssertExpectations(t)
}

type recordingNotifier struct {
	records []*store.TestRunRecord
	events  []*store.RecoveryEventRecord
}

func (n *recordingNotifier) RunFinished(ctx context.Context, record *store.TestRunRecord, recovery *store.RecoveryEventRecord) {
	n.records = append(n.records, record)
	n.events = append(n.events, recovery)
}

func TestWorker_ProcessJob_NotifierReceivesTerminalRun(t *testing.T) {
	worker, service, mockStore, mockQueue, _ := setupTestWorker(t)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	service.SetNotifier(notifier)

	plan := testPlan("order-flow-2", httpStep("create-order"))
	record := storedRun(t, plan)
	job := runJob(record, false)

	mockStore.On("GetTestRun", ctx, record.ID).Return(record, nil)
	mockStore.On("MarkTestRunStarted", ctx, record.ID).Return(nil)
	mockStore.On("FinishTestRun", ctx, mock.AnythingOfType("*store.TestRunRecord")).Return(nil)
	mockStore.On("CreateStepResults", ctx, mock.AnythingOfType("[]*store.StepResultRecord")).Return(nil)
	mockQueue.On("Complete", ctx, job.ID, mock.AnythingOfType("*queue.JobResult")).Return(nil)

	worker.processJob(ctx, job)

	require.Len(t, notifier.records, 1)
	assert.Equal(t, store.RunStatusPassed, notifier.records[0].Status)
	assert.Equal(t, record.ID, notifier.records[0].ID)
	require.Len(t, notifier.events, 1)
	assert.Nil(t, notifier.events[0])
}

func TestWorker_ProcessJob_NotifierReceivesRecoveryEvent(t *testing.T) {
	worker, service, mockStore, mockQueue, stub := setupTestWorker(t)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	service.SetNotifier(notifier)

	stub.execute = func(execCtx context.Context, step executor.TestStep, testCtx *executor.TestContext) (*executor.StepResult, error) {
		return &executor.StepResult{
			StepID: step.ID,
			Status: executor.StepStatusFailed,
			Error:  "connection refused to orders:8443",
		}, nil
	}

	plan := testPlan("checkout-2", httpStep("reserve-stock"))
	record := storedRun(t, plan)
	job := runJob(record, true)

	var persisted *store.RecoveryEventRecord
	mockStore.On("GetTestRun", ctx, record.ID).Return(record, nil)
	mockStore.On("MarkTestRunStarted", ctx, record.ID).Return(nil)
	mockStore.On("FinishTestRun", ctx, mock.AnythingOfType("*store.TestRunRecord")).Return(nil)
	mockStore.On("CreateStepResults", ctx, mock.AnythingOfType("[]*store.StepResultRecord")).Return(nil)
	mockStore.On("CreateRecoveryEvent", ctx, mock.AnythingOfType("*store.RecoveryEventRecord")).Run(func(args mock.Arguments) {
		persisted = args.Get(1).(*store.RecoveryEventRecord)
	}).Return(nil)
	mockQueue.On("Complete", ctx, job.ID, mock.AnythingOfType("*queue.JobResult")).Return(nil)

	worker.processJob(ctx, job)

	require.Len(t, notifier.records, 1)
	assert.Equal(t, store.RunStatusFailed, notifier.records[0].Status)
	require.Len(t, notifier.events, 1)
	require.NotNil(t, notifier.events[0])
	assert.Same(t, persisted, notifier.events[0])
	assert.Equal(t, "NETWORK_FAILURE", notifier.events[0].FailureType)
}

func TestClassifyRunFailure(t *testing.T) {
	plan := testPlan("classify-1", httpStep("s1"))

	failedResult := func(status TestStatus, errMsg string) *TestResult {
		return &TestResult{
			TestID: "classify-1",
			Status: status,
			StepResults: []executor.StepResult{
				{StepID: "s1", Status: executor.StepStatusFailed, Error: errMsg},
			},
		}
	}

	tests := []struct {
		name         string
		errMsg       string
		expectedType errors.FailureType
		expectedCode string
	}{
		{
			name:         "timeout",
			errMsg:       "step timed out after 30s",
			expectedType: errors.FailureTypeNetwork,
			expectedCode: "TIMEOUT",
		},
		{
			name:         "connection refused",
			errMsg:       "dial tcp 10.0.0.1:5432: connect: connection refused",
			expectedType: errors.FailureTypeNetwork,
			expectedCode: "CONNECTION_REFUSED",
		},
		{
			name:         "authentication",
			errMsg:       "request rejected: 401 Unauthorized",
			expectedType: errors.FailureTypeAuthentication,
			expectedCode: "AUTH_REJECTED",
		},
		{
			name:         "assertion",
			errMsg:       "expected status 200 but got 500",
			expectedType: errors.FailureTypeBusinessLogic,
			expectedCode: "ASSERTION_FAILED",
		},
		{
			name:         "data",
			errMsg:       "malformed payload in response body",
			expectedType: errors.FailureTypeData,
			expectedCode: "DATA_INTEGRITY",
		},
		{
			name:         "unclassified",
			errMsg:       "boom",
			expectedType: errors.FailureTypeService,
			expectedCode: "SERVICE_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failure := classifyRunFailure(failedResult(TestStatusFailed, tt.errMsg), &plan)

			require.NotNil(t, failure)
			assert.Equal(t, tt.expectedType, failure.Type)
			assert.Equal(t, tt.expectedCode, failure.Code)
			assert.Equal(t, "orders", failure.ServiceID)
			assert.Equal(t, "s1", failure.StepID)
			assert.Equal(t, errors.SeverityHigh, failure.Severity)
		})
	}

	t.Run("partial success keeps default severity", func(t *testing.T) {
		failure := classifyRunFailure(failedResult(TestStatusPartialSuccess, "boom"), &plan)
		require.NotNil(t, failure)
		assert.Equal(t, errors.SeverityMedium, failure.Severity)
	})

	t.Run("no failed steps", func(t *testing.T) {
		result := &TestResult{
			TestID: "classify-1",
			Status: TestStatusFailed,
			StepResults: []executor.StepResult{
				{StepID: "s1", Status: executor.StepStatusCancelled},
			},
		}
		assert.Nil(t, classifyRunFailure(result, &plan))
	})
}

func TestParseRunPayload(t *testing.T) {
	runID := uuid.New()

	job := queue.NewJob(JobTypeTestRun, queue.PriorityLow, map[string]interface{}{
		"run_id":              runID.String(),
		"test_id":             "t1",
		"rollback_on_failure": true,
	})

	payload, err := parseRunPayload(job)
	require.NoError(t, err)
	assert.Equal(t, runID, payload.RunID)
	assert.Equal(t, "t1", payload.TestID)
	assert.True(t, payload.RollbackOnFailure)

	// Optional fields default when absent
	job = queue.NewJob(JobTypeTestRun, queue.PriorityLow, map[string]interface{}{
		"run_id": runID.String(),
	})
	payload, err = parseRunPayload(job)
	require.NoError(t, err)
	assert.Empty(t, payload.TestID)
	assert.False(t, payload.RollbackOnFailure)
}

func TestBuildStepRecords(t *testing.T) {
	runID := uuid.New()
	plan := testPlan("build-1", httpStep("s1"), httpStep("s2"))

	now := time.Now()
	result := &TestResult{
		TestID: "build-1",
		StepResults: []executor.StepResult{
			{
				StepID:      "s1",
				Status:      executor.StepStatusPassed,
				Attempts:    1,
				Output:      map[string]interface{}{"status_code": 200},
				StartedAt:   now,
				CompletedAt: now.Add(120 * time.Millisecond),
				Duration:    120 * time.Millisecond,
			},
			{
				StepID:    "unknown-step",
				Status:    executor.StepStatusFailed,
				Attempts:  2,
				Error:     "boom",
				StartedAt: now,
			},
		},
	}

	records := buildStepRecords(runID, result, &plan)

	require.Len(t, records, 2)
	assert.Equal(t, runID, records[0].RunID)
	assert.Equal(t, "s1", records[0].StepID)
	assert.Equal(t, 0, records[0].StepIndex)
	assert.Equal(t, "s1", records[0].StepName)
	assert.Equal(t, "http", records[0].StepType)
	assert.Equal(t, "orders", records[0].ServiceID)
	assert.Equal(t, int64(120), records[0].DurationMS)
	assert.JSONEq(t, `{"status_code": 200}`, string(records[0].Output))

	// Steps missing from the plan keep their result data without metadata
	assert.Equal(t, "unknown-step", records[1].StepID)
	assert.Empty(t, records[1].StepType)
	assert.Equal(t, "boom", records[1].ErrorMessage)
	assert.Nil(t, records[1].Output)
}

func TestBuildRecoveryEvent_NoRollback(t *testing.T) {
	record := &store.TestRunRecord{ID: uuid.New(), TestID: "t1"}
	recovery := &resilience.RecoveryResult{
		TestID:             "t1",
		FailureType:        errors.FailureTypeService,
		FailureSeverity:    errors.SeverityMedium,
		DegradationApplied: true,
		DegradationLevel:   resilience.LevelMinimal,
	}

	event := buildRecoveryEvent(record, recovery)

	assert.Equal(t, record.ID, event.RunID)
	assert.Equal(t, "SERVICE_FAILURE", event.FailureType)
	assert.Equal(t, "MEDIUM", event.FailureSeverity)
	assert.Equal(t, "MINIMAL", event.DegradationLevel)
	assert.False(t, event.RollbackPerformed)
	assert.Nil(t, event.RollbackSucceeded)
}
