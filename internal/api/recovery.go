package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/resilience"
)

// RecoveryHandler exposes the recovery subsystem for operators
type RecoveryHandler struct {
	recovery *resilience.ErrorHandlingService
}

// NewRecoveryHandler creates a new recovery handler
func NewRecoveryHandler(recovery *resilience.ErrorHandlingService) *RecoveryHandler {
	return &RecoveryHandler{recovery: recovery}
}

// GetStatistics returns circuit breaker and degradation state
func (h *RecoveryHandler) GetStatistics(c *gin.Context) {
	stats := h.recovery.GetRecoveryStatistics()

	breakers := make(map[string]string)
	for name, state := range h.recovery.CircuitBreakerStates() {
		breakers[name] = state.String()
	}

	SuccessResponse(c, map[string]interface{}{
		"statistics":       stats,
		"circuit_breakers": breakers,
		"degradation":      h.recovery.GetDegradationManager().Status(),
	})
}

// UpdateDegradation sets or resets degradation levels
func (h *RecoveryHandler) UpdateDegradation(c *gin.Context) {
	var req UpdateDegradationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	manager := h.recovery.GetDegradationManager()

	if req.Reset {
		if req.ServiceID == "" {
			manager.ResetAll()
		} else {
			manager.ResetService(req.ServiceID)
		}
		SuccessResponse(c, manager.Status())
		return
	}

	level, err := resilience.ParseDegradationLevel(strings.ToUpper(req.Level))
	if err != nil {
		BadRequestResponse(c, err.Error())
		return
	}

	if req.ServiceID == "" {
		manager.SetGlobalLevel(level)
	} else {
		manager.SetServiceLevel(req.ServiceID, level)
	}

	SuccessResponse(c, manager.Status())
}

// ResetCircuitBreakers closes all circuit breakers
func (h *RecoveryHandler) ResetCircuitBreakers(c *gin.Context) {
	h.recovery.ResetCircuitBreakers()

	SuccessResponse(c, map[string]string{
		"message": "Circuit breakers reset",
	})
}
