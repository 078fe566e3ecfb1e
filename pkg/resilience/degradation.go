package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
)

// DegradationLevel represents how far a service has been degraded
type DegradationLevel int

const (
	// LevelNone - service is fully operational
	LevelNone DegradationLevel = iota
	// LevelMinimal - cheap fallbacks such as cached results
	LevelMinimal
	// LevelModerate - canned responses replace live calls
	LevelModerate
	// LevelSevere - non-essential work is skipped entirely
	LevelSevere
	// LevelCritical - load is shed, calls fail fast
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelMinimal:
		return "MINIMAL"
	case LevelModerate:
		return "MODERATE"
	case LevelSevere:
		return "SEVERE"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON encodes the level as its name
func (l DegradationLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level from its name
func (l *DegradationLevel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseDegradationLevel(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseDegradationLevel converts a level name into a DegradationLevel
func ParseDegradationLevel(s string) (DegradationLevel, error) {
	switch s {
	case "NONE":
		return LevelNone, nil
	case "MINIMAL":
		return LevelMinimal, nil
	case "MODERATE":
		return LevelModerate, nil
	case "SEVERE":
		return LevelSevere, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return LevelNone, fmt.Errorf("unknown degradation level %q", s)
	}
}

// DegradationStrategy is a fallback behavior that can stand in for a failing
// service at a given degradation level
type DegradationStrategy interface {
	// Level returns the degradation level this strategy operates at
	Level() DegradationLevel

	// CanHandle reports whether this strategy applies to the failure
	CanHandle(failure error, serviceID string) bool

	// ExecuteDegraded produces the fallback result
	ExecuteDegraded(ctx context.Context, operationName, serviceID string, failure error, params map[string]interface{}) (interface{}, error)

	// SupportedOperations lists the operation names this strategy covers
	SupportedOperations() []string

	// Description explains what the strategy does
	Description() string
}

// ErrNoApplicableStrategy is returned when no registered strategy covers the
// requested operation at the service's current degradation level
var ErrNoApplicableStrategy = errors.New("no applicable degradation strategy")

// GracefulDegradationManager tracks per-service degradation levels plus one
// global level, and executes registered fallback strategies when live calls
// fail. The effective level for a service is the maximum of its own level
// and the global level.
type GracefulDegradationManager struct {
	mu            sync.RWMutex
	serviceLevels map[string]DegradationLevel
	globalLevel   DegradationLevel
	strategies    []DegradationStrategy
	logger        *logging.Logger
}

// NewGracefulDegradationManager creates a degradation manager with no
// registered strategies
func NewGracefulDegradationManager() *GracefulDegradationManager {
	return &GracefulDegradationManager{
		serviceLevels: make(map[string]DegradationLevel),
		logger:        logging.GetLogger(),
	}
}

// RegisterStrategy adds a fallback strategy. Strategies are kept sorted by
// level ascending; strategies at the same level keep registration order.
func (dm *GracefulDegradationManager) RegisterStrategy(strategy DegradationStrategy) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.strategies = append(dm.strategies, strategy)
	sort.SliceStable(dm.strategies, func(i, j int) bool {
		return dm.strategies[i].Level() < dm.strategies[j].Level()
	})

	dm.logger.Info("Degradation strategy registered",
		"level", strategy.Level().String(),
		"operations", strategy.SupportedOperations(),
		"description", strategy.Description(),
	)
}

// ServiceLevel returns the recorded degradation level for a service
func (dm *GracefulDegradationManager) ServiceLevel(serviceID string) DegradationLevel {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.serviceLevels[serviceID]
}

// GlobalLevel returns the process-wide degradation level
func (dm *GracefulDegradationManager) GlobalLevel() DegradationLevel {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.globalLevel
}

// EffectiveLevel returns the level a service actually operates at
func (dm *GracefulDegradationManager) EffectiveLevel(serviceID string) DegradationLevel {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.effectiveLevelLocked(serviceID)
}

func (dm *GracefulDegradationManager) effectiveLevelLocked(serviceID string) DegradationLevel {
	level := dm.serviceLevels[serviceID]
	if dm.globalLevel > level {
		return dm.globalLevel
	}
	return level
}

// SetServiceLevel overrides the recorded level for a service. Unlike
// escalation this may lower the level.
func (dm *GracefulDegradationManager) SetServiceLevel(serviceID string, level DegradationLevel) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.serviceLevels[serviceID] = level
	dm.logger.Warn("Degradation level set",
		"service", serviceID,
		"level", level.String(),
	)
}

// SetGlobalLevel overrides the process-wide level
func (dm *GracefulDegradationManager) SetGlobalLevel(level DegradationLevel) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.globalLevel = level
	dm.logger.Warn("Global degradation level set", "level", level.String())
}

// EscalateService raises a service's recorded level. Escalation never
// lowers a level; use SetServiceLevel or ResetService for that.
func (dm *GracefulDegradationManager) EscalateService(serviceID string, level DegradationLevel) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if level <= dm.serviceLevels[serviceID] {
		return false
	}

	dm.serviceLevels[serviceID] = level
	dm.logger.Warn("Degradation level escalated",
		"service", serviceID,
		"level", level.String(),
	)
	return true
}

// ResetService clears the recorded level for a service
func (dm *GracefulDegradationManager) ResetService(serviceID string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	delete(dm.serviceLevels, serviceID)
	dm.logger.Info("Degradation level reset", "service", serviceID)
}

// ResetAll clears every recorded level including the global one
func (dm *GracefulDegradationManager) ResetAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.serviceLevels = make(map[string]DegradationLevel)
	dm.globalLevel = LevelNone
	dm.logger.Info("All degradation levels reset")
}

// DegradedServices returns the services whose recorded level is above NONE,
// sorted by name
func (dm *GracefulDegradationManager) DegradedServices() []string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	var services []string
	for name, level := range dm.serviceLevels {
		if level > LevelNone {
			services = append(services, name)
		}
	}
	sort.Strings(services)
	return services
}

// ExecuteWithDegradation runs the first applicable fallback strategy for the
// failed operation. Strategies are scanned in ascending severity order
// starting at the service's current effective level; the chosen strategy's
// level is recorded against the service, escalation only.
func (dm *GracefulDegradationManager) ExecuteWithDegradation(ctx context.Context, operationName, serviceID string, originalFailure error, params map[string]interface{}) (interface{}, error) {
	strategy := dm.selectStrategy(operationName, serviceID, originalFailure)
	if strategy == nil {
		return nil, fmt.Errorf("%w for operation %q on service %q", ErrNoApplicableStrategy, operationName, serviceID)
	}

	result, err := strategy.ExecuteDegraded(ctx, operationName, serviceID, originalFailure, params)
	if err != nil {
		return nil, err
	}

	escalated := dm.EscalateService(serviceID, strategy.Level())
	dm.logger.LogRecoveryEvent(ctx, "degraded_execution", serviceID, map[string]interface{}{
		"operation": operationName,
		"level":     strategy.Level().String(),
		"escalated": escalated,
	})

	return result, nil
}

// ShouldDegrade reports whether any strategy would currently apply to the
// operation, without executing anything
func (dm *GracefulDegradationManager) ShouldDegrade(serviceID, operationName string) bool {
	return dm.selectStrategy(operationName, serviceID, nil) != nil
}

// selectStrategy finds the first strategy at or above the service's
// effective level that supports the operation and accepts the failure
func (dm *GracefulDegradationManager) selectStrategy(operationName, serviceID string, failure error) DegradationStrategy {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	effective := dm.effectiveLevelLocked(serviceID)
	for _, strategy := range dm.strategies {
		if strategy.Level() < effective {
			continue
		}
		if !supportsOperation(strategy, operationName) {
			continue
		}
		if !strategy.CanHandle(failure, serviceID) {
			continue
		}
		return strategy
	}
	return nil
}

func supportsOperation(strategy DegradationStrategy, operationName string) bool {
	for _, op := range strategy.SupportedOperations() {
		if op == operationName {
			return true
		}
	}
	return false
}

// DegradationStatus is a snapshot of the manager's state for observability
type DegradationStatus struct {
	GlobalLevel      string            `json:"global_level"`
	Services         map[string]string `json:"services"`
	DegradedServices int               `json:"degraded_services"`
	Strategies       []string          `json:"strategies"`
}

// Status returns the current degradation status
func (dm *GracefulDegradationManager) Status() DegradationStatus {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	services := make(map[string]string, len(dm.serviceLevels))
	degraded := 0
	for name, level := range dm.serviceLevels {
		services[name] = level.String()
		if level > LevelNone {
			degraded++
		}
	}

	strategies := make([]string, 0, len(dm.strategies))
	for _, s := range dm.strategies {
		strategies = append(strategies, fmt.Sprintf("%s: %s", s.Level().String(), s.Description()))
	}

	return DegradationStatus{
		GlobalLevel:      dm.globalLevel.String(),
		Services:         services,
		DegradedServices: degraded,
		Strategies:       strategies,
	}
}
