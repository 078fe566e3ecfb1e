package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
)

// TestRunRepository handles test run persistence
type TestRunRepository struct {
	db *DB
}

// NewTestRunRepository creates a new test run repository
func NewTestRunRepository(db *DB) *TestRunRepository {
	return &TestRunRepository{db: db}
}

// Create inserts a new test run row
func (r *TestRunRepository) Create(ctx context.Context, run *TestRunRecord) error {
	query := `
		INSERT INTO test_runs (
			id, test_id, name, environment, correlation_id, priority, status,
			plan, total_steps, created_at, updated_at
		) VALUES (
			:id, :test_id, :name, :environment, :correlation_id, :priority, :status,
			:plan, :total_steps, :created_at, :updated_at
		)`

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt

	_, err := r.db.NamedExecContext(ctx, query, run)
	if err != nil {
		return errors.NewInternalError("failed to create test run").WithCause(err)
	}

	return nil
}

// GetByID retrieves a test run by row ID
func (r *TestRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*TestRunRecord, error) {
	var run TestRunRecord
	query := `SELECT * FROM test_runs WHERE id = $1`

	err := r.db.GetContext(ctx, &run, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("test run")
		}
		return nil, errors.NewInternalError("failed to get test run").WithCause(err)
	}

	return &run, nil
}

// GetLatestByTestID retrieves the most recent run of a test
func (r *TestRunRepository) GetLatestByTestID(ctx context.Context, testID string) (*TestRunRecord, error) {
	var run TestRunRecord
	query := `SELECT * FROM test_runs WHERE test_id = $1 ORDER BY created_at DESC LIMIT 1`

	err := r.db.GetContext(ctx, &run, query, testID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("test run")
		}
		return nil, errors.NewInternalError("failed to get latest test run").WithCause(err)
	}

	return &run, nil
}

// MarkStarted transitions a run to RUNNING and stamps its start time
func (r *TestRunRepository) MarkStarted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE test_runs
		SET status = 'RUNNING', started_at = NOW(), updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.NewInternalError("failed to mark test run as started").WithCause(err)
	}

	return requireRowsAffected(result, "test run")
}

// Finish writes the terminal outcome of a run
func (r *TestRunRepository) Finish(ctx context.Context, run *TestRunRecord) error {
	query := `
		UPDATE test_runs
		SET status = :status, successful_steps = :successful_steps,
		    failed_steps = :failed_steps, skipped_steps = :skipped_steps,
		    failure_reason = :failure_reason, recovery_applied = :recovery_applied,
		    rollback_performed = :rollback_performed, started_at = :started_at,
		    completed_at = :completed_at, duration_ms = :duration_ms, updated_at = NOW()
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, run)
	if err != nil {
		return errors.NewInternalError("failed to finish test run").WithCause(err)
	}

	return requireRowsAffected(result, "test run")
}

// UpdateStatus updates only the status of a run
func (r *TestRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE test_runs SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return errors.NewInternalError("failed to update test run status").WithCause(err)
	}

	return requireRowsAffected(result, "test run")
}

// Delete removes a run. Step results and recovery events cascade.
func (r *TestRunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM test_runs WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.NewInternalError("failed to delete test run").WithCause(err)
	}

	return requireRowsAffected(result, "test run")
}

// List lists test runs with filtering and pagination
func (r *TestRunRepository) List(ctx context.Context, filter *RunFilter, pagination *Pagination) ([]*TestRunRecord, int64, error) {
	if filter == nil {
		filter = &RunFilter{}
	}
	if pagination == nil {
		pagination = DefaultPagination()
	}
	pagination.normalize()

	whereClause, args := buildRunWhere(filter)

	var total int64
	countQuery := "SELECT COUNT(*) FROM test_runs " + whereClause
	countStmt, cargs, err := r.db.BindNamed(countQuery, args)
	if err != nil {
		return nil, 0, errors.NewInternalError("failed to bind run count query").WithCause(err)
	}
	if err := r.db.GetContext(ctx, &total, countStmt, cargs...); err != nil {
		return nil, 0, errors.NewInternalError("failed to count test runs").WithCause(err)
	}

	offset := (pagination.Page - 1) * pagination.PageSize
	query := `SELECT * FROM test_runs ` + whereClause + ` ORDER BY created_at DESC LIMIT :limit OFFSET :offset`
	args["limit"] = pagination.PageSize
	args["offset"] = offset

	rows, err := r.db.NamedQueryContext(ctx, query, args)
	if err != nil {
		return nil, 0, errors.NewInternalError("failed to list test runs").WithCause(err)
	}
	defer rows.Close()

	var runs []*TestRunRecord
	for rows.Next() {
		var run TestRunRecord
		if err := rows.StructScan(&run); err != nil {
			return nil, 0, errors.NewInternalError("failed to scan test run").WithCause(err)
		}
		runs = append(runs, &run)
	}

	return runs, total, nil
}

// Summarize aggregates run counts, optionally scoped to an environment
func (r *TestRunRepository) Summarize(ctx context.Context, environment string) (*RunSummary, error) {
	query := `
		SELECT
			COUNT(*) AS total_runs,
			COUNT(*) FILTER (WHERE status = 'PASSED') AS passed_runs,
			COUNT(*) FILTER (WHERE status = 'FAILED') AS failed_runs,
			COUNT(*) FILTER (WHERE status = 'PARTIAL_SUCCESS') AS partial_runs,
			COUNT(*) FILTER (WHERE status = 'CANCELLED') AS cancelled_runs,
			COUNT(*) FILTER (WHERE status IN ('QUEUED', 'RUNNING', 'PAUSED')) AS active_runs,
			COUNT(*) FILTER (WHERE recovery_applied) AS recovered_runs,
			COUNT(*) FILTER (WHERE rollback_performed) AS rolled_back_runs
		FROM test_runs
		WHERE ($1 = '' OR environment = $1)`

	var summary RunSummary
	if err := r.db.GetContext(ctx, &summary, query, environment); err != nil {
		return nil, errors.NewInternalError("failed to summarize test runs").WithCause(err)
	}

	return &summary, nil
}

// PruneFinished removes terminal runs completed before the cutoff
func (r *TestRunRepository) PruneFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM test_runs
		WHERE status IN ('PASSED', 'FAILED', 'PARTIAL_SUCCESS', 'CANCELLED')
		  AND completed_at IS NOT NULL
		  AND completed_at < $1`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, errors.NewInternalError("failed to prune finished runs").WithCause(err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to get rows affected").WithCause(err)
	}

	return removed, nil
}

// buildRunWhere builds the WHERE clause and named args for run queries
func buildRunWhere(filter *RunFilter) (string, map[string]interface{}) {
	whereClause := "WHERE 1=1"
	args := make(map[string]interface{})

	if filter.TestID != "" {
		whereClause += " AND test_id = :test_id"
		args["test_id"] = filter.TestID
	}

	if filter.Environment != "" {
		whereClause += " AND environment = :environment"
		args["environment"] = filter.Environment
	}

	if filter.Status != "" {
		whereClause += " AND status = :status"
		args["status"] = filter.Status
	}

	if !filter.Since.IsZero() {
		whereClause += " AND created_at >= :since"
		args["since"] = filter.Since
	}

	if !filter.Until.IsZero() {
		whereClause += " AND created_at <= :until"
		args["until"] = filter.Until
	}

	return whereClause, args
}

// StepResultRepository handles step result persistence
type StepResultRepository struct {
	db *DB
}

// NewStepResultRepository creates a new step result repository
func NewStepResultRepository(db *DB) *StepResultRepository {
	return &StepResultRepository{db: db}
}

// CreateBatch inserts all step results of a run in one statement
func (r *StepResultRepository) CreateBatch(ctx context.Context, results []*StepResultRecord) error {
	if len(results) == 0 {
		return nil
	}

	columns := []string{
		"id", "run_id", "step_id", "step_name", "step_type", "service_id",
		"step_index", "status", "attempts", "output", "error_message",
		"started_at", "completed_at", "duration_ms", "created_at",
	}

	valueStrings := make([]string, len(results))
	args := make([]interface{}, 0, len(results)*len(columns))

	now := time.Now()
	for i, res := range results {
		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}
		res.CreatedAt = now

		placeholders := make([]string, len(columns))
		for j := range columns {
			placeholders[j] = fmt.Sprintf("$%d", len(args)+j+1)
		}
		valueStrings[i] = "(" + strings.Join(placeholders, ", ") + ")"

		args = append(args,
			res.ID, res.RunID, res.StepID, res.StepName, res.StepType, res.ServiceID,
			res.StepIndex, res.Status, res.Attempts, res.Output, res.ErrorMessage,
			res.StartedAt, res.CompletedAt, res.DurationMS, res.CreatedAt,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO step_results (%s) VALUES %s",
		strings.Join(columns, ", "),
		strings.Join(valueStrings, ", "),
	)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errors.NewInternalError("failed to create step results").WithCause(err)
	}

	return nil
}

// ListByRun lists step results for a run in execution order
func (r *StepResultRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*StepResultRecord, error) {
	var results []*StepResultRecord
	query := `SELECT * FROM step_results WHERE run_id = $1 ORDER BY step_index ASC`

	err := r.db.SelectContext(ctx, &results, query, runID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list step results").WithCause(err)
	}

	return results, nil
}

// RecoveryEventRepository handles recovery event persistence
type RecoveryEventRepository struct {
	db *DB
}

// NewRecoveryEventRepository creates a new recovery event repository
func NewRecoveryEventRepository(db *DB) *RecoveryEventRepository {
	return &RecoveryEventRepository{db: db}
}

// Create inserts a recovery event
func (r *RecoveryEventRepository) Create(ctx context.Context, event *RecoveryEventRecord) error {
	query := `
		INSERT INTO recovery_events (
			id, run_id, test_id, failure_type, failure_severity,
			degradation_applied, degradation_level, rollback_performed,
			rollback_succeeded, details, created_at
		) VALUES (
			:id, :run_id, :test_id, :failure_type, :failure_severity,
			:degradation_applied, :degradation_level, :rollback_performed,
			:rollback_succeeded, :details, :created_at
		)`

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return errors.NewInternalError("failed to create recovery event").WithCause(err)
	}

	return nil
}

// ListByRun lists recovery events for a run in chronological order
func (r *RecoveryEventRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]*RecoveryEventRecord, error) {
	var events []*RecoveryEventRecord
	query := `SELECT * FROM recovery_events WHERE run_id = $1 ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &events, query, runID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list recovery events").WithCause(err)
	}

	return events, nil
}

func requireRowsAffected(result sql.Result, resource string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to get rows affected").WithCause(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError(resource)
	}
	return nil
}

// Repositories aggregates the store repositories
type Repositories struct {
	Runs     *TestRunRepository
	Steps    *StepResultRepository
	Recovery *RecoveryEventRepository
}

// NewRepositories creates a new repositories instance
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Runs:     NewTestRunRepository(db),
		Steps:    NewStepResultRepository(db),
		Recovery: NewRecoveryEventRepository(db),
	}
}
