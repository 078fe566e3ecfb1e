package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/config"
)

func TestTestRunRecord_Finished(t *testing.T) {
	tests := []struct {
		status   string
		finished bool
	}{
		{RunStatusQueued, false},
		{RunStatusRunning, false},
		{RunStatusPaused, false},
		{RunStatusPassed, true},
		{RunStatusFailed, true},
		{RunStatusPartialSuccess, true},
		{RunStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			run := &TestRunRecord{Status: tt.status}
			assert.Equal(t, tt.finished, run.Finished())
		})
	}
}

func TestBuildRunWhere(t *testing.T) {
	where, args := buildRunWhere(&RunFilter{})
	assert.Equal(t, "WHERE 1=1", where)
	assert.Empty(t, args)

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	filter := &RunFilter{
		TestID:      "order-flow-1",
		Environment: "staging",
		Status:      RunStatusFailed,
		Since:       since,
	}

	where, args = buildRunWhere(filter)
	assert.Contains(t, where, "test_id = :test_id")
	assert.Contains(t, where, "environment = :environment")
	assert.Contains(t, where, "status = :status")
	assert.Contains(t, where, "created_at >= :since")
	assert.NotContains(t, where, ":until")
	assert.Equal(t, "order-flow-1", args["test_id"])
	assert.Equal(t, "staging", args["environment"])
	assert.Equal(t, RunStatusFailed, args["status"])
	assert.Equal(t, since, args["since"])
}

func TestPagination_Normalize(t *testing.T) {
	p := &Pagination{Page: 0, PageSize: 0}
	p.normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)

	p = &Pagination{Page: 3, PageSize: 5000}
	p.normalize()
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 200, p.PageSize)

	p = DefaultPagination()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)
}

// setupTestStore connects to the database named by INTELLIQA_TEST_DB_HOST.
// Tests that need a live database skip when it is unset.
func setupTestStore(t *testing.T) *DB {
	t.Helper()

	host := os.Getenv("INTELLIQA_TEST_DB_HOST")
	if host == "" {
		t.Skip("Skipping store integration test - INTELLIQA_TEST_DB_HOST not set")
	}

	db, err := New(&config.DatabaseConfig{
		Host:            host,
		Port:            5432,
		Name:            "intelliqa_test",
		User:            "intelliqa",
		Password:        os.Getenv("INTELLIQA_TEST_DB_PASSWORD"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func TestTestRunRepository_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupTestStore(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	run := &TestRunRecord{
		TestID:      "store-lifecycle-1",
		Name:        "store lifecycle",
		Environment: "test",
		Priority:    5,
		Status:      RunStatusQueued,
		Plan:        []byte(`{"test_id":"store-lifecycle-1"}`),
		TotalSteps:  2,
	}

	require.NoError(t, repos.Runs.Create(ctx, run))
	require.NotEqual(t, uuid.Nil, run.ID)
	defer repos.Runs.Delete(ctx, run.ID)

	fetched, err := repos.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusQueued, fetched.Status)

	require.NoError(t, repos.Runs.MarkStarted(ctx, run.ID))

	now := time.Now()
	fetched.Status = RunStatusPassed
	fetched.SuccessfulSteps = 2
	fetched.StartedAt = &now
	fetched.CompletedAt = &now
	fetched.DurationMS = 1500
	require.NoError(t, repos.Runs.Finish(ctx, fetched))

	latest, err := repos.Runs.GetLatestByTestID(ctx, "store-lifecycle-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusPassed, latest.Status)
	assert.True(t, latest.Finished())

	results := []*StepResultRecord{
		{RunID: run.ID, StepID: "s1", StepIndex: 0, Status: "passed", Attempts: 1},
		{RunID: run.ID, StepID: "s2", StepIndex: 1, Status: "passed", Attempts: 2},
	}
	require.NoError(t, repos.Steps.CreateBatch(ctx, results))

	stored, err := repos.Steps.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "s1", stored[0].StepID)
	assert.Equal(t, "s2", stored[1].StepID)
}

func TestRecoveryEventRepository_CreateAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupTestStore(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	run := &TestRunRecord{
		TestID: "store-recovery-1",
		Status: RunStatusFailed,
		Plan:   []byte(`{}`),
	}
	require.NoError(t, repos.Runs.Create(ctx, run))
	defer repos.Runs.Delete(ctx, run.ID)

	succeeded := true
	event := &RecoveryEventRecord{
		RunID:              run.ID,
		TestID:             run.TestID,
		FailureType:        "NETWORK_FAILURE",
		FailureSeverity:    "HIGH",
		DegradationApplied: true,
		DegradationLevel:   "MODERATE",
		RollbackPerformed:  true,
		RollbackSucceeded:  &succeeded,
	}
	require.NoError(t, repos.Recovery.Create(ctx, event))

	events, err := repos.Recovery.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "NETWORK_FAILURE", events[0].FailureType)
	require.NotNil(t, events[0].RollbackSucceeded)
	assert.True(t, *events[0].RollbackSucceeded)
}
