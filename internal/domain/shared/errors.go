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

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")
	ErrLockNotAcquired        = errors.New("lock not acquired")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "schedule", "enrollment", "attendance"
	Op      string // Operation that failed, e.g., "Cancel", "Deduct"
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

// Reason returns the human-readable message without domain prefixes.
// HTTP handlers surface it to teachers as the rejection reason.
func (e *DomainError) Reason() string {
	return e.Message
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

// Schedule domain errors
var (
	ErrScheduleNotFound      = NewDomainError("schedule", "Find", ErrNotFound, "schedule not found")
	ErrDateNotInSchedule     = NewDomainError("schedule", "Cancel", ErrInvalidInput, "date not in schedule")
	ErrAlreadyCancelled      = NewDomainError("schedule", "Cancel", ErrAlreadyProcessed, "already cancelled")
	ErrNotCancelled          = NewDomainError("schedule", "Restore", ErrInvalidState, "date is not cancelled")
	ErrOccurrencePassed      = NewDomainError("schedule", "Cancel", ErrExpired, "date has passed")
	ErrNotScheduleTeacher    = NewDomainError("schedule", "Authorize", ErrForbidden, "only the schedule teacher can change occurrences")
	ErrInvalidScheduleKind   = NewDomainError("schedule", "Validate", ErrInvalidInput, "invalid schedule kind")
	ErrInvalidTotalSessions  = NewDomainError("schedule", "Validate", ErrValueOutOfRange, "total sessions must be positive")
	ErrMissingPrivateStudent = NewDomainError("schedule", "Validate", ErrInvalidInput, "private schedule requires a student")
)

// Recurrence errors
var (
	ErrEmptyDays         = NewDomainError("recurrence", "Validate", ErrEmptyValue, "recurrence days cannot be empty")
	ErrInvalidDateRange  = NewDomainError("recurrence", "Validate", ErrInvalidInput, "start date must not be after end date")
	ErrInvalidStartTime  = NewDomainError("recurrence", "Validate", ErrInvalidFormat, "start time must be a valid HH:MM")
	ErrInvalidFrequency  = NewDomainError("recurrence", "Validate", ErrInvalidInput, "invalid frequency")
	ErrInvalidDuration   = NewDomainError("recurrence", "Validate", ErrValueOutOfRange, "duration must be positive")
	ErrInvalidTimezone   = NewDomainError("recurrence", "Validate", ErrInvalidInput, "unknown timezone")
	ErrNegativeCount     = NewDomainError("recurrence", "Generate", ErrNegativeValue, "occurrence count cannot be negative")
	ErrHorizonExhausted  = NewDomainError("recurrence", "Generate", ErrValueOutOfRange, "safety horizon reached before count")
	ErrInvalidCivilDate  = NewDomainError("recurrence", "ParseDate", ErrInvalidFormat, "date must be YYYY-MM-DD")
	ErrNonMonotonicDates = NewDomainError("recurrence", "Validate", ErrInvalidInput, "dates must be increasing")
)

// Enrollment domain errors
var (
	ErrEnrollmentNotFound    = NewDomainError("enrollment", "Find", ErrNotFound, "enrollment not found")
	ErrInvalidEnrollmentMove = NewDomainError("enrollment", "Transition", ErrStateTransition, "invalid enrollment status transition")
	ErrEnrollmentTerminal    = NewDomainError("enrollment", "Transition", ErrInvalidState, "enrollment is in a terminal state")
	ErrInvalidPayment        = NewDomainError("enrollment", "Pay", ErrInvalidInput, "payment must cover at least one session")
	ErrLedgerConflict        = NewDomainError("enrollment", "UpdateLedger", ErrOptimisticLock, "ledger was modified concurrently")
	ErrReleaseNotFound       = NewDomainError("enrollment", "MarkReleased", ErrNotFound, "pending release not found")
)

// Attendance domain errors
var (
	ErrUnknownParticipant = NewDomainError("attendance", "Resolve", ErrNotFound, "participant not known")
	ErrInvalidEventType   = NewDomainError("attendance", "Validate", ErrInvalidInput, "event must be join or leave")
	ErrInvalidStatus      = NewDomainError("attendance", "Validate", ErrInvalidInput, "invalid attendance status")
)

// Wallet and notification errors
var (
	ErrWalletUnavailable    = NewDomainError("wallet", "Release", ErrServiceUnavailable, "wallet is unavailable")
	ErrWalletNotFound       = NewDomainError("wallet", "Find", ErrNotFound, "teacher wallet not found")
	ErrInsufficientEscrow   = NewDomainError("wallet", "Release", ErrInvalidState, "pending balance is lower than the release")
	ErrNotificationFailed   = NewDomainError("notification", "Send", ErrExternalService, "failed to send notification")
	ErrNotificationRejected = NewDomainError("notification", "Validate", ErrInvalidInput, "notification requires a recipient and message")
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
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsPrecondition reports benign "nothing to do" outcomes: callers log them
// and move on instead of failing.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrExpired)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrOptimisticLock) ||
		errors.Is(err, ErrLockNotAcquired)
}
