package asynctask

import (
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/asynctask/dispatch"
)

// Error type constants for classification and matching
const (
	// ErrorTypeEntryFailure means reading variables, building the outbound
	// payload or scheduling the external work failed. Entry is aborted and no
	// wait state is recorded.
	ErrorTypeEntryFailure = "entry_failure"

	// ErrorTypeDispatchRejected means the destination executor was saturated
	// or shutting down. It is a kind of entry failure.
	ErrorTypeDispatchRejected = "dispatch_rejected"

	// ErrorTypeDeliveryFailure means a signal targeted an execution that is
	// not suspended at the addressed activity.
	ErrorTypeDeliveryFailure = "delivery_failure"

	// ErrorTypeUnsupportedContinuation means a continuation job named an
	// operation other than the canonical activity-execute operation.
	ErrorTypeUnsupportedContinuation = "unsupported_continuation"

	// ErrorTypeExternalWorkerFailure is raised inside dispatched work. It is
	// only ever observed through the failure sink, never by the engine.
	ErrorTypeExternalWorkerFailure = "external_worker_failure"
)

// Sentinels for use with errors.Is. ErrDispatchRejected also matches
// ErrEntryFailure.
var (
	ErrEntryFailure            = &Error{Type: ErrorTypeEntryFailure}
	ErrDispatchRejected        = &Error{Type: ErrorTypeDispatchRejected}
	ErrDeliveryFailure         = &Error{Type: ErrorTypeDeliveryFailure}
	ErrUnsupportedContinuation = &Error{Type: ErrorTypeUnsupportedContinuation}
	ErrExternalWorkerFailure   = &Error{Type: ErrorTypeExternalWorkerFailure}
)

// Error represents a structured error with classification.
// It supports Go's error wrapping patterns with Unwrap() method
type Error struct {
	Type        string `json:"type"`
	Cause       string `json:"cause"`
	ExecutionID string `json:"execution_id,omitempty"`
	Details     any    `json:"details,omitempty"`
	Wrapped     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.ExecutionID != "" {
		return fmt.Sprintf("%s: %s (execution %s)", e.Type, e.Cause, e.ExecutionID)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a sentinel of the same type, or of a type this
// error is a subtype of.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Cause != "" {
		return false
	}
	return typeMatches(e.Type, t.Type)
}

func typeMatches(errorType, pattern string) bool {
	if errorType == pattern {
		return true
	}
	return errorType == ErrorTypeDispatchRejected && pattern == ErrorTypeEntryFailure
}

// NewError creates a new Error with the specified type and cause.
func NewError(errorType, cause string) *Error {
	return &Error{Type: errorType, Cause: cause}
}

// NewEntryFailure wraps err as an entry failure for the given execution. A
// rejection from the dispatch gateway becomes a DispatchRejected error.
func NewEntryFailure(executionID string, err error) *Error {
	var existing *Error
	if errors.As(err, &existing) && typeMatches(existing.Type, ErrorTypeEntryFailure) {
		return existing
	}
	errorType := ErrorTypeEntryFailure
	if errors.Is(err, dispatch.ErrRejected) {
		errorType = ErrorTypeDispatchRejected
	}
	return &Error{
		Type:        errorType,
		Cause:       err.Error(),
		ExecutionID: executionID,
		Wrapped:     err,
	}
}

// NewDeliveryFailure reports a signal that could not be delivered.
func NewDeliveryFailure(executionID, cause string) *Error {
	return &Error{
		Type:        ErrorTypeDeliveryFailure,
		Cause:       cause,
		ExecutionID: executionID,
	}
}

// NewUnsupportedContinuation reports a continuation naming an operation that
// is not supported.
func NewUnsupportedContinuation(operationName string) *Error {
	return &Error{
		Type:    ErrorTypeUnsupportedContinuation,
		Cause:   fmt.Sprintf("operation %q is not supported", operationName),
		Details: operationName,
	}
}

// NewExternalWorkerFailure wraps a failure raised inside dispatched work.
func NewExternalWorkerFailure(executionID string, err error) *Error {
	return &Error{
		Type:        ErrorTypeExternalWorkerFailure,
		Cause:       err.Error(),
		ExecutionID: executionID,
		Wrapped:     err,
	}
}

// ClassifyError returns err as an *Error. Errors that are not already
// classified are treated as entry failures.
func ClassifyError(err error) *Error {
	var asyncErr *Error
	if errors.As(err, &asyncErr) {
		return asyncErr
	}
	return NewEntryFailure("", err)
}

// MatchesErrorType checks if an error matches a specified error type pattern
func MatchesErrorType(err error, errorType string) bool {
	if err == nil {
		return false
	}
	return typeMatches(ClassifyError(err).Type, errorType)
}
