// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Data-quality errors
	ErrInsufficientData = errors.New("insufficient data")
	ErrMalformedRecord  = errors.New("malformed record")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "baseline", "alert", "experiment"
	Op      string // Operation that failed, e.g., "Build", "Transition"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Observation domain errors
var (
	ErrInvalidStudentID   = NewDomainError("observation", "Validate", ErrInvalidID, "invalid student ID")
	ErrInvalidIntensity   = NewDomainError("observation", "Validate", ErrValueOutOfRange, "intensity must be between 1 and 10")
	ErrObservationInvalid = NewDomainError("observation", "Validate", ErrInvalidEntity, "malformed observation record")
)

// Baseline domain errors
var (
	ErrBaselineUnavailable = NewDomainError("baseline", "Find", ErrNotFound, "baseline record not found")
	ErrBaselineStale       = NewDomainError("baseline", "Refresh", ErrExpired, "baseline record is stale")
	ErrBaselineTooSparse   = NewDomainError("baseline", "Build", ErrInsufficientData, "not enough observation history")
)

// Alert domain errors
var (
	ErrAlertMissing         = NewDomainError("alert", "Find", ErrNotFound, "alert not found")
	ErrAlertTransition      = NewDomainError("alert", "Transition", ErrStateTransition, "invalid alert status transition")
	ErrAlertAlreadyTerminal = NewDomainError("alert", "Transition", ErrInvalidState, "alert already resolved or dismissed")
)

// Experiment domain errors
var (
	ErrExperimentUnknown  = NewDomainError("experiment", "Assign", ErrNotFound, "unknown experiment key")
	ErrOverrideMissing    = NewDomainError("experiment", "Find", ErrNotFound, "threshold override not found")
	ErrAssignmentMissing  = NewDomainError("experiment", "Find", ErrNotFound, "experiment assignment not found")
	ErrFeedbackOutOfOrder = NewDomainError("experiment", "Learn", ErrAlreadyProcessed, "feedback already applied")
)

// External service errors
var (
	ErrTauuUnavailable     = NewDomainError("tauu", "Request", ErrServiceUnavailable, "effect-size service is unavailable")
	ErrTauuTimeout         = NewDomainError("tauu", "Request", ErrTimeout, "effect-size service request timeout")
	ErrTauuInvalidResponse = NewDomainError("tauu", "Parse", ErrInvalidFormat, "invalid response from effect-size service")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsInsufficientData checks if the error marks a data-sufficiency gate.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
