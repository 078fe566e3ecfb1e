package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/errors"
	"github.com/cloudcompilerr/intelli-qa-sub001/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityError - error alerts that need immediate attention
	SeverityError
	// SeverityCritical - critical alerts that need urgent attention
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert represents an alert that needs to be sent
type Alert struct {
	ID          string                 `json:"id"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager manages alert generation and routing
type AlertManager struct {
	mutex    sync.RWMutex
	handlers []AlertHandler
	logger   *logging.Logger

	// Rate limiting, per alert source
	rateMu        sync.Mutex
	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager() *AlertManager {
	return &AlertManager{
		handlers:      make([]AlertHandler, 0),
		logger:        logging.GetLogger(),
		alertCounts:   make(map[string]int),
		lastReset:     time.Now(),
		rateLimit:     100, // 100 alerts per reset interval
		resetInterval: time.Hour,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
	am.logger.Info("Alert handler added", "handler", handler.Name())
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	if !am.allowAlert(alert.Source) {
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}

	// Set timestamp if not provided
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	// Generate ID if not provided
	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Source, alert.Timestamp.UnixNano())
	}

	am.logger.Info("Sending alert",
		"id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
	)

	am.mutex.RLock()
	handlers := make([]AlertHandler, len(am.handlers))
	copy(handlers, am.handlers)
	am.mutex.RUnlock()

	var lastErr error
	successCount := 0

	for _, handler := range handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}

	return nil
}

func (am *AlertManager) allowAlert(source string) bool {
	am.rateMu.Lock()
	defer am.rateMu.Unlock()

	now := time.Now()

	// Reset counters if interval has passed
	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler() *LoggingAlertHandler {
	return &LoggingAlertHandler{
		logger: logging.GetLogger(),
	}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
		"description", alert.Description,
		"timestamp", alert.Timestamp,
	}

	// Add tags as fields
	for key, value := range alert.Tags {
		fields = append(fields, fmt.Sprintf("tag_%s", key), value)
	}

	// Add metadata as fields
	for key, value := range alert.Metadata {
		fields = append(fields, fmt.Sprintf("meta_%s", key), value)
	}

	switch alert.Severity {
	case SeverityInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case SeverityError:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	case SeverityCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	}

	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}

// ErrorAlertGenerator generates alerts from errors
type ErrorAlertGenerator struct {
	alertManager *AlertManager
	logger       *logging.Logger
}

// NewErrorAlertGenerator creates a new error alert generator
func NewErrorAlertGenerator(alertManager *AlertManager) *ErrorAlertGenerator {
	return &ErrorAlertGenerator{
		alertManager: alertManager,
		logger:       logging.GetLogger(),
	}
}

// HandleError processes an error and generates appropriate alerts
func (eag *ErrorAlertGenerator) HandleError(ctx context.Context, err error, source string, metadata map[string]interface{}) {
	if err == nil {
		return
	}

	severity := eag.determineSeverity(err)

	alert := Alert{
		Severity:    severity,
		Title:       eag.generateTitle(err),
		Description: err.Error(),
		Source:      source,
		Tags:        eag.generateTags(err),
		Metadata:    metadata,
	}

	if alertErr := eag.alertManager.SendAlert(ctx, alert); alertErr != nil {
		eag.logger.Error("Failed to send error alert",
			"original_error", err,
			"alert_error", alertErr,
			"source", source,
		)
	}
}

func (eag *ErrorAlertGenerator) determineSeverity(err error) AlertSeverity {
	// Circuit breaker rejections mean a dependency is down
	if IsCircuitBreakerError(err) {
		return SeverityError
	}

	// Classified test failures carry their own severity
	if failure, ok := errors.AsTestFailure(err); ok {
		switch failure.Severity {
		case errors.SeverityCritical:
			return SeverityCritical
		case errors.SeverityHigh:
			return SeverityError
		case errors.SeverityMedium:
			return SeverityWarning
		default:
			return SeverityInfo
		}
	}

	switch errors.GetType(err) {
	case errors.ErrorTypeTimeout:
		return SeverityWarning
	case errors.ErrorTypeExternal:
		return SeverityWarning
	case errors.ErrorTypeInternal:
		return SeverityError
	case errors.ErrorTypeValidation:
		return SeverityInfo
	case errors.ErrorTypeAuthentication, errors.ErrorTypeAuthorization:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func (eag *ErrorAlertGenerator) generateTitle(err error) string {
	if failure, ok := errors.AsTestFailure(err); ok {
		switch failure.Type {
		case errors.FailureTypeNetwork:
			return "Network Failure"
		case errors.FailureTypeData:
			return "Data Failure"
		case errors.FailureTypeBusinessLogic:
			return "Business Logic Failure"
		case errors.FailureTypeAuthentication:
			return "Authentication Failure"
		default:
			return "Service Failure"
		}
	}

	switch errors.GetType(err) {
	case errors.ErrorTypeTimeout:
		return "Operation Timeout"
	case errors.ErrorTypeExternal:
		return "External Service Error"
	case errors.ErrorTypeInternal:
		return "Internal System Error"
	case errors.ErrorTypeValidation:
		return "Validation Error"
	case errors.ErrorTypeAuthentication:
		return "Authentication Error"
	case errors.ErrorTypeAuthorization:
		return "Authorization Error"
	default:
		return fmt.Sprintf("Error: %s", errors.GetCode(err))
	}
}

func (eag *ErrorAlertGenerator) generateTags(err error) map[string]string {
	tags := make(map[string]string)

	if failure, ok := errors.AsTestFailure(err); ok {
		tags["failure_type"] = string(failure.Type)
		tags["failure_severity"] = failure.Severity.String()
		if failure.ServiceID != "" {
			tags["service_id"] = failure.ServiceID
		}
		return tags
	}

	tags["error_type"] = string(errors.GetType(err))
	tags["error_code"] = errors.GetCode(err)

	if IsCircuitBreakerError(err) {
		tags["circuit_breaker"] = "true"
	}

	return tags
}

// SystemHealthMonitor watches the recovery subsystem and turns state changes
// into alerts: degradation level movement, circuit breaker trips, and overall
// breaker health dropping below a threshold
type SystemHealthMonitor struct {
	alertManager  *AlertManager
	errorHandling *ErrorHandlingService
	logger        *logging.Logger

	checkInterval   time.Duration
	healthThreshold float64

	lastGlobal     DegradationLevel
	lastServices   map[string]DegradationLevel
	healthDegraded bool

	stopChan chan struct{}
	running  bool
	mutex    sync.Mutex
}

// NewSystemHealthMonitor creates a new system health monitor
func NewSystemHealthMonitor(alertManager *AlertManager, errorHandling *ErrorHandlingService) *SystemHealthMonitor {
	return &SystemHealthMonitor{
		alertManager:    alertManager,
		errorHandling:   errorHandling,
		logger:          logging.GetLogger(),
		checkInterval:   30 * time.Second,
		healthThreshold: 50.0,
		lastGlobal:      LevelNone,
		lastServices:    make(map[string]DegradationLevel),
		stopChan:        make(chan struct{}),
	}
}

// BindBreakerAlerts routes circuit breaker state transitions into alerts
func (shm *SystemHealthMonitor) BindBreakerAlerts(ctx context.Context) {
	shm.errorHandling.SetBreakerStateHook(func(name string, from, to CircuitState) {
		var alert Alert
		switch to {
		case StateOpen:
			alert = Alert{
				Severity:    SeverityError,
				Title:       "Circuit Breaker Opened",
				Description: fmt.Sprintf("Circuit breaker for service '%s' opened after repeated failures", name),
			}
		case StateHalfOpen:
			alert = Alert{
				Severity:    SeverityInfo,
				Title:       "Circuit Breaker Probing",
				Description: fmt.Sprintf("Circuit breaker for service '%s' is probing for recovery", name),
			}
		default:
			alert = Alert{
				Severity:    SeverityInfo,
				Title:       "Circuit Breaker Recovered",
				Description: fmt.Sprintf("Circuit breaker for service '%s' closed again", name),
			}
		}

		alert.Source = "circuit_breaker"
		alert.Tags = map[string]string{
			"service_id": name,
			"from_state": from.String(),
			"to_state":   to.String(),
		}

		if err := shm.alertManager.SendAlert(ctx, alert); err != nil {
			shm.logger.Error("Failed to send circuit breaker alert", "service", name, "error", err)
		}
	})
}

// Start starts the health monitoring
func (shm *SystemHealthMonitor) Start(ctx context.Context) {
	shm.mutex.Lock()
	defer shm.mutex.Unlock()

	if shm.running {
		return
	}

	shm.running = true
	shm.stopChan = make(chan struct{})
	go shm.monitorLoop(ctx)
	shm.logger.Info("System health monitor started")
}

// Stop stops the health monitoring
func (shm *SystemHealthMonitor) Stop() {
	shm.mutex.Lock()
	defer shm.mutex.Unlock()

	if !shm.running {
		return
	}

	close(shm.stopChan)
	shm.running = false
	shm.logger.Info("System health monitor stopped")
}

func (shm *SystemHealthMonitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(shm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shm.stopChan:
			return
		case <-ticker.C:
			shm.checkSystemHealth(ctx)
		}
	}
}

func (shm *SystemHealthMonitor) checkSystemHealth(ctx context.Context) {
	dm := shm.errorHandling.GetDegradationManager()

	// Global degradation level movement
	global := dm.GlobalLevel()
	if global != shm.lastGlobal {
		shm.sendDegradationAlert(ctx, "global", shm.lastGlobal, global)
		shm.lastGlobal = global
	}

	// Per-service level movement
	current := make(map[string]DegradationLevel)
	for _, serviceID := range dm.DegradedServices() {
		current[serviceID] = dm.ServiceLevel(serviceID)
	}
	for serviceID, level := range current {
		if level != shm.lastServices[serviceID] {
			shm.sendDegradationAlert(ctx, serviceID, shm.lastServices[serviceID], level)
		}
	}
	for serviceID, last := range shm.lastServices {
		if _, still := current[serviceID]; !still {
			shm.sendDegradationAlert(ctx, serviceID, last, LevelNone)
		}
	}
	shm.lastServices = current

	// Overall breaker health
	stats := shm.errorHandling.GetRecoveryStatistics()
	if stats.TotalCircuitBreakers > 0 {
		below := stats.CircuitBreakerHealthPercentage < shm.healthThreshold
		if below && !shm.healthDegraded {
			shm.healthDegraded = true
			shm.sendHealthAlert(ctx, stats)
		} else if !below {
			shm.healthDegraded = false
		}
	}
}

func (shm *SystemHealthMonitor) sendDegradationAlert(ctx context.Context, scope string, from, to DegradationLevel) {
	alert := Alert{
		Severity:    severityForLevel(to),
		Title:       "Degradation Level Changed",
		Description: fmt.Sprintf("Degradation level for %s changed from %s to %s", scope, from.String(), to.String()),
		Source:      "system_health_monitor",
		Tags: map[string]string{
			"scope":          scope,
			"previous_level": from.String(),
			"current_level":  to.String(),
		},
	}

	if err := shm.alertManager.SendAlert(ctx, alert); err != nil {
		shm.logger.Error("Failed to send degradation alert", "error", err)
	}
}

func (shm *SystemHealthMonitor) sendHealthAlert(ctx context.Context, stats RecoveryStatistics) {
	alert := Alert{
		Severity: SeverityError,
		Title:    "Circuit Breaker Health Degraded",
		Description: fmt.Sprintf("%d of %d circuit breakers are open (%.1f%% healthy)",
			stats.OpenCircuitBreakers, stats.TotalCircuitBreakers, stats.CircuitBreakerHealthPercentage),
		Source: "system_health_monitor",
		Tags: map[string]string{
			"component": "circuit_breaker",
		},
		Metadata: map[string]interface{}{
			"total_breakers": stats.TotalCircuitBreakers,
			"open_breakers":  stats.OpenCircuitBreakers,
			"health_percent": stats.CircuitBreakerHealthPercentage,
		},
	}

	if err := shm.alertManager.SendAlert(ctx, alert); err != nil {
		shm.logger.Error("Failed to send health alert", "error", err)
	}
}

func severityForLevel(level DegradationLevel) AlertSeverity {
	switch level {
	case LevelNone:
		return SeverityInfo
	case LevelMinimal, LevelModerate:
		return SeverityWarning
	case LevelSevere:
		return SeverityError
	default:
		return SeverityCritical
	}
}
