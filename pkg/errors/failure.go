package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// FailureType classifies what part of a test interaction went wrong.
type FailureType string

const (
	FailureTypeService        FailureType = "SERVICE_FAILURE"
	FailureTypeNetwork        FailureType = "NETWORK_FAILURE"
	FailureTypeData           FailureType = "DATA_FAILURE"
	FailureTypeBusinessLogic  FailureType = "BUSINESS_LOGIC_FAILURE"
	FailureTypeAuthentication FailureType = "AUTHENTICATION_FAILURE"
)

// FailureSeverity grades how damaging a failure is. Values are ordered,
// SeverityLow < SeverityCritical, so they can be compared directly.
type FailureSeverity int

const (
	SeverityLow FailureSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns a human-readable representation of the severity
func (s FailureSeverity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// AtLeast reports whether the severity is min or worse
func (s FailureSeverity) AtLeast(min FailureSeverity) bool {
	return s >= min
}

// ParseFailureSeverity converts a severity name into a FailureSeverity
func ParseFailureSeverity(s string) (FailureSeverity, error) {
	switch s {
	case "LOW":
		return SeverityLow, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return SeverityMedium, fmt.Errorf("unknown failure severity %q", s)
	}
}

// MarshalJSON encodes the severity as its name
func (s FailureSeverity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its name
func (s *FailureSeverity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseFailureSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TestFailure represents a classified failure observed while exercising a
// target service during a test run
type TestFailure struct {
	Type      FailureType       `json:"type"`
	Severity  FailureSeverity   `json:"severity"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	ServiceID string            `json:"service_id"`
	StepID    string            `json:"step_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (f *TestFailure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap returns the underlying cause
func (f *TestFailure) Unwrap() error {
	return f.Cause
}

// NewTestFailure creates a classified failure with an explicit type and code
func NewTestFailure(failureType FailureType, code, serviceID, message string) *TestFailure {
	return &TestFailure{
		Type:      failureType,
		Severity:  SeverityMedium,
		Code:      code,
		Message:   message,
		ServiceID: serviceID,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds the underlying cause to the failure
func (f *TestFailure) WithCause(cause error) *TestFailure {
	f.Cause = cause
	return f
}

// WithSeverity overrides the default severity
func (f *TestFailure) WithSeverity(severity FailureSeverity) *TestFailure {
	f.Severity = severity
	return f
}

// WithStepID records which test step observed the failure
func (f *TestFailure) WithStepID(stepID string) *TestFailure {
	f.StepID = stepID
	return f
}

// WithDetail adds a detail to the failure
func (f *TestFailure) WithDetail(key, value string) *TestFailure {
	if f.Details == nil {
		f.Details = make(map[string]string)
	}
	f.Details[key] = value
	return f
}

// NewServiceFailure creates a failure for a target service that misbehaved
// (5xx answers, refused work, crashed mid-interaction)
func NewServiceFailure(serviceID, message string) *TestFailure {
	return NewTestFailure(FailureTypeService, "SERVICE_UNAVAILABLE", serviceID, message)
}

// NewNetworkFailure creates a failure for transport-level problems
func NewNetworkFailure(serviceID, message string) *TestFailure {
	return NewTestFailure(FailureTypeNetwork, "NETWORK_ERROR", serviceID, message)
}

// NewTimeoutFailure creates a network failure for an interaction that ran
// past its deadline
func NewTimeoutFailure(serviceID, message string) *TestFailure {
	return NewTestFailure(FailureTypeNetwork, "TIMEOUT", serviceID, message)
}

// NewConnectionFailure creates a network failure for a connection that
// could not be established
func NewConnectionFailure(serviceID, message string) *TestFailure {
	return NewTestFailure(FailureTypeNetwork, "CONNECTION_REFUSED", serviceID, message)
}

// NewDataFailure creates a failure for corrupted, missing, or malformed data
func NewDataFailure(serviceID, message string) *TestFailure {
	return NewTestFailure(FailureTypeData, "DATA_INTEGRITY", serviceID, message)
}

// NewBusinessLogicFailure creates a failure for a semantically wrong answer
// from an otherwise healthy service (assertion mismatches)
func NewBusinessLogicFailure(serviceID, message string) *TestFailure {
	return NewTestFailure(FailureTypeBusinessLogic, "ASSERTION_FAILED", serviceID, message)
}

// NewAuthenticationFailure creates a failure for rejected credentials or tokens
func NewAuthenticationFailure(serviceID, message string) *TestFailure {
	return NewTestFailure(FailureTypeAuthentication, "AUTH_REJECTED", serviceID, message).
		WithSeverity(SeverityHigh)
}

// AsTestFailure unwraps err into a *TestFailure if one is in its chain
func AsTestFailure(err error) (*TestFailure, bool) {
	var failure *TestFailure
	if stderrors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// IsFailureType checks whether err carries the given failure type
func IsFailureType(err error, failureType FailureType) bool {
	if failure, ok := AsTestFailure(err); ok {
		return failure.Type == failureType
	}
	return false
}

// FailureTypeOf returns the failure type of err, defaulting to a service
// failure for unclassified errors
func FailureTypeOf(err error) FailureType {
	if failure, ok := AsTestFailure(err); ok {
		return failure.Type
	}
	return FailureTypeService
}

// SeverityOf returns the severity of err, defaulting to medium for
// unclassified errors
func SeverityOf(err error) FailureSeverity {
	if failure, ok := AsTestFailure(err); ok {
		return failure.Severity
	}
	return SeverityMedium
}

// IsTimeout reports whether err describes a deadline overrun
func IsTimeout(err error) bool {
	if failure, ok := AsTestFailure(err); ok {
		return failure.Code == "TIMEOUT"
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// IsConnection reports whether err describes a connect-level problem
func IsConnection(err error) bool {
	if failure, ok := AsTestFailure(err); ok {
		return failure.Code == "CONNECTION_REFUSED" || failure.Type == FailureTypeNetwork
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "connection")
}

// Classify wraps an arbitrary error into the failure taxonomy. Already
// classified errors pass through unchanged; everything else is sorted by
// message into timeout, connection, or generic service failures.
func Classify(err error, serviceID string) *TestFailure {
	if err == nil {
		return nil
	}
	if failure, ok := AsTestFailure(err); ok {
		return failure
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return NewTimeoutFailure(serviceID, err.Error()).WithCause(err)
	case strings.Contains(msg, "connection"):
		return NewConnectionFailure(serviceID, err.Error()).WithCause(err)
	default:
		return NewServiceFailure(serviceID, err.Error()).WithCause(err)
	}
}
