// Package orchestrator runs the deploy and destroy pipelines against the
// deployment state store, enforcing the single-active-deployment invariant
// and persisting progress after every step.
package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorClass classifies orchestrator errors for recovery logic.
type ErrorClass string

const (
	// ErrorClassValidation indicates bad input. State is never mutated.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict indicates another operation holds the deployment
	// (status acts as the mutual-exclusion flag). The caller may retry
	// after the in-flight operation reaches a terminal state.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassProvider indicates a remote provider call failed. Retries
	// are the caller's choice, never automatic within a step.
	ErrorClassProvider ErrorClass = "provider"

	// ErrorClassPartial indicates a pipeline step failed after earlier
	// steps succeeded; the record retains the completed handles and the
	// status is failed. Recovery is destroy() or, with no resources left,
	// reset().
	ErrorClassPartial ErrorClass = "partial"

	// ErrorClassState indicates the persisted record was unreadable. The
	// store degrades to not_deployed and surfaces this as a warning.
	ErrorClassState ErrorClass = "state"
)

// OpError is a classified orchestrator error.
type OpError struct {
	Class   ErrorClass
	Message string
	Step    string
	Err     error
}

func (e *OpError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step=%s): %s", e.Class, e.Message, e.Step, e.unwrapMessage())
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (e *OpError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is: two OpErrors match on class.
func (e *OpError) Is(target error) bool {
	t, ok := target.(*OpError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *OpError {
	return &OpError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string) *OpError {
	return &OpError{Class: ErrorClassConflict, Message: message}
}

// NewProviderError creates a provider error.
func NewProviderError(message string, err error) *OpError {
	return &OpError{Class: ErrorClassProvider, Message: message, Err: err}
}

// NewPartialFailure creates a partial-failure error for the named step.
func NewPartialFailure(step string, err error) *OpError {
	return &OpError{Class: ErrorClassPartial, Message: "pipeline step failed", Step: step, Err: err}
}

// NewStateError creates a state-corruption error.
func NewStateError(message string, err error) *OpError {
	return &OpError{Class: ErrorClassState, Message: message, Err: err}
}

func isClass(err error, class ErrorClass) bool {
	var e *OpError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsValidation reports whether err is classified as a validation error.
func IsValidation(err error) bool { return isClass(err, ErrorClassValidation) }

// IsConflict reports whether err is classified as a conflict.
func IsConflict(err error) bool { return isClass(err, ErrorClassConflict) }

// IsProvider reports whether err is classified as a provider error.
func IsProvider(err error) bool { return isClass(err, ErrorClassProvider) }

// IsPartialFailure reports whether err is classified as a partial failure.
func IsPartialFailure(err error) bool { return isClass(err, ErrorClassPartial) }

// IsStateError reports whether err is classified as state corruption.
func IsStateError(err error) bool { return isClass(err, ErrorClassState) }
