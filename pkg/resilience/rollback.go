package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
)

// RollbackAction undoes one side effect left behind by a test run
type RollbackAction interface {
	// ID identifies the action
	ID() string

	// ServiceID names the service the action compensates on
	ServiceID() string

	// Priority orders execution; higher priorities run first
	Priority() int

	// CanExecute reports whether the action is currently executable
	CanExecute() bool

	// Execute performs the compensation
	Execute(ctx context.Context) error
}

// FuncRollbackAction adapts plain functions to the RollbackAction interface
type FuncRollbackAction struct {
	id        string
	serviceID string
	priority  int
	guard     func() bool
	run       func(ctx context.Context) error
}

// NewFuncRollbackAction creates a rollback action from a function
func NewFuncRollbackAction(id, serviceID string, priority int, run func(ctx context.Context) error) *FuncRollbackAction {
	return &FuncRollbackAction{
		id:        id,
		serviceID: serviceID,
		priority:  priority,
		run:       run,
	}
}

// WithGuard sets a precondition check; when it returns false the action is
// counted as failed without running
func (a *FuncRollbackAction) WithGuard(guard func() bool) *FuncRollbackAction {
	a.guard = guard
	return a
}

func (a *FuncRollbackAction) ID() string        { return a.id }
func (a *FuncRollbackAction) ServiceID() string { return a.serviceID }
func (a *FuncRollbackAction) Priority() int     { return a.priority }

func (a *FuncRollbackAction) CanExecute() bool {
	if a.guard == nil {
		return true
	}
	return a.guard()
}

func (a *FuncRollbackAction) Execute(ctx context.Context) error {
	return a.run(ctx)
}

// RollbackResult summarizes one rollback pass
type RollbackResult struct {
	TestID        string        `json:"test_id"`
	Total         int           `json:"total"`
	Successful    int           `json:"successful"`
	Failed        int           `json:"failed"`
	FailedActions []string      `json:"failed_actions,omitempty"`
	Duration      time.Duration `json:"duration"`
	ExecutedAt    time.Time     `json:"executed_at"`
}

// IsSuccessful reports whether every action in the pass succeeded
func (r *RollbackResult) IsSuccessful() bool {
	return r.Failed == 0
}

type registeredAction struct {
	action   RollbackAction
	consumed bool
}

// RollbackManager keeps per-test collections of compensating actions and
// executes them in priority order after a run fails. Each test's actions
// are tracked independently so concurrent runs do not interfere.
type RollbackManager struct {
	mu      sync.Mutex
	actions map[string][]*registeredAction
	logger  *logging.Logger
}

// NewRollbackManager creates an empty rollback manager
func NewRollbackManager() *RollbackManager {
	return &RollbackManager{
		actions: make(map[string][]*registeredAction),
		logger:  logging.GetLogger(),
	}
}

// Register appends a rollback action to the test's list
func (rm *RollbackManager) Register(testID string, action RollbackAction) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.actions[testID] = append(rm.actions[testID], &registeredAction{action: action})

	rm.logger.Debug("Rollback action registered",
		"test_id", testID,
		"action_id", action.ID(),
		"service", action.ServiceID(),
		"priority", action.Priority(),
	)
}

// PendingCount returns how many actions remain registered for a test
func (rm *RollbackManager) PendingCount(testID string) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	count := 0
	for _, reg := range rm.actions[testID] {
		if !reg.consumed {
			count++
		}
	}
	return count
}

// TestsWithActions returns the number of tests that still have pending
// rollback actions
func (rm *RollbackManager) TestsWithActions() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	count := 0
	for _, regs := range rm.actions {
		for _, reg := range regs {
			if !reg.consumed {
				count++
				break
			}
		}
	}
	return count
}

// Clear drops every registration for a test
func (rm *RollbackManager) Clear(testID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.actions, testID)
}

// ExecuteRollback runs every pending action for the test, highest priority
// first, ties in registration order. Individual failures do not stop the
// pass. Every action in the pass is consumed whether it succeeded or not;
// calling again with nothing pending returns an empty successful result.
func (rm *RollbackManager) ExecuteRollback(ctx context.Context, testID string) *RollbackResult {
	return rm.execute(ctx, testID, nil)
}

// ExecuteRollbackForServices runs only the pending actions whose service is
// in the given set, leaving the rest registered
func (rm *RollbackManager) ExecuteRollbackForServices(ctx context.Context, testID string, serviceIDs []string) *RollbackResult {
	allowed := make(map[string]bool, len(serviceIDs))
	for _, id := range serviceIDs {
		allowed[id] = true
	}
	return rm.execute(ctx, testID, allowed)
}

func (rm *RollbackManager) execute(ctx context.Context, testID string, allowed map[string]bool) *RollbackResult {
	started := time.Now()

	// Snapshot the pending actions and consume them in one critical
	// section; registrations arriving during the pass wait for the next one
	rm.mu.Lock()
	var snapshot []RollbackAction
	for _, reg := range rm.actions[testID] {
		if reg.consumed {
			continue
		}
		if allowed != nil && !allowed[reg.action.ServiceID()] {
			continue
		}
		reg.consumed = true
		snapshot = append(snapshot, reg.action)
	}
	rm.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Priority() > snapshot[j].Priority()
	})

	result := &RollbackResult{
		TestID:     testID,
		Total:      len(snapshot),
		ExecutedAt: started,
	}

	for _, action := range snapshot {
		if err := rm.runAction(ctx, action); err != nil {
			result.Failed++
			result.FailedActions = append(result.FailedActions, action.ID())
			rm.logger.Error("Rollback action failed",
				"test_id", testID,
				"action_id", action.ID(),
				"service", action.ServiceID(),
				"error", err.Error(),
			)
			continue
		}
		result.Successful++
	}

	result.Duration = time.Since(started)

	if result.Total > 0 {
		rm.logger.Info("Rollback completed",
			"test_id", testID,
			"total", result.Total,
			"successful", result.Successful,
			"failed", result.Failed,
		)
	}

	return result
}

// runAction executes a single action, treating a false precondition or a
// panic as a failure that must not abort the pass
func (rm *RollbackManager) runAction(ctx context.Context, action RollbackAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rollback action %s panicked: %v", action.ID(), r)
		}
	}()

	if !action.CanExecute() {
		return fmt.Errorf("rollback action %s is not executable", action.ID())
	}

	return action.Execute(ctx)
}
