package executor

import (
	"sync"
	"time"
)

// TestContext carries shared state across the steps of one test run.
// Executors read service endpoints and variables from it and record every
// service interaction they perform. It is safe for concurrent use so status
// endpoints can inspect a run while it executes.
type TestContext struct {
	TestID      string
	Environment string
	CreatedAt   time.Time

	mu           sync.RWMutex
	variables    map[string]interface{}
	endpoints    map[string]string
	interactions []ServiceInteraction
}

// ServiceInteraction records one call made against a target service
type ServiceInteraction struct {
	ServiceID string        `json:"service_id"`
	StepID    string        `json:"step_id"`
	Operation string        `json:"operation"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewTestContext creates a context for a test run
func NewTestContext(testID, environment string, endpoints map[string]string) *TestContext {
	eps := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		eps[k] = v
	}
	return &TestContext{
		TestID:      testID,
		Environment: environment,
		CreatedAt:   time.Now(),
		variables:   make(map[string]interface{}),
		endpoints:   eps,
	}
}

// SetVariable stores a value produced by a step for later steps to consume
func (tc *TestContext) SetVariable(key string, value interface{}) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.variables[key] = value
}

// GetVariable returns a previously stored value
func (tc *TestContext) GetVariable(key string) (interface{}, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	value, ok := tc.variables[key]
	return value, ok
}

// Variables returns a copy of all stored variables
func (tc *TestContext) Variables() map[string]interface{} {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make(map[string]interface{}, len(tc.variables))
	for k, v := range tc.variables {
		out[k] = v
	}
	return out
}

// Endpoint resolves the base endpoint for a service
func (tc *TestContext) Endpoint(serviceID string) (string, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	endpoint, ok := tc.endpoints[serviceID]
	return endpoint, ok
}

// RecordInteraction appends a service interaction to the run history
func (tc *TestContext) RecordInteraction(interaction ServiceInteraction) {
	if interaction.Timestamp.IsZero() {
		interaction.Timestamp = time.Now()
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.interactions = append(tc.interactions, interaction)
}

// Interactions returns a copy of the recorded service interactions
func (tc *TestContext) Interactions() []ServiceInteraction {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]ServiceInteraction, len(tc.interactions))
	copy(out, tc.interactions)
	return out
}

// ServicesTouched returns the distinct service IDs seen in interactions,
// in first-seen order
func (tc *TestContext) ServicesTouched() []string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	seen := make(map[string]bool)
	var services []string
	for _, in := range tc.interactions {
		if !seen[in.ServiceID] {
			seen[in.ServiceID] = true
			services = append(services, in.ServiceID)
		}
	}
	return services
}
