// Package errors provides structured error handling for the specflow engine.
// Every user-visible failure carries a stable taxonomy kind, a short human
// message, and actionable next steps drawn from a fixed catalog.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class. The set of kinds is part of the
// engine's contract: callers switch on it to decide exit codes and retries.
type Kind int

const (
	// ParseError is a spec document that could not be parsed. Collected
	// into the load report; never aborts other parses.
	ParseError Kind = iota
	// IntegrityError is a structural invariant violation over the spec
	// graph. Blocks the start-next and complete-current pipelines.
	IntegrityError
	// AlreadyAssigned means an in_progress assignment already exists for
	// the (spec, task) pair.
	AlreadyAssigned
	// NotInProgress means a completion was requested for a (spec, task)
	// pair with no in_progress assignment.
	NotInProgress
	// LockTimeout means the workflow-state lock could not be acquired in
	// time. Retryable after a jittered backoff.
	LockTimeout
	// ValidationViolation is a non-fatal assignment validation failure.
	ValidationViolation
	// ExternalToolFailure means a lint, test, or VCS invocation failed.
	ExternalToolFailure
	// ConflictDetected means workflow state and a spec file disagree in a
	// way neither side can unilaterally resolve.
	ConflictDetected
	// IOError is a filesystem failure bubbled with context.
	IOError
)

// String returns the stable wire name of the kind.
func (k Kind) String() string {
	switch k {
	case ParseError:
		return "ParseError"
	case IntegrityError:
		return "IntegrityError"
	case AlreadyAssigned:
		return "AlreadyAssigned"
	case NotInProgress:
		return "NotInProgress"
	case LockTimeout:
		return "LockTimeout"
	case ValidationViolation:
		return "ValidationViolation"
	case ExternalToolFailure:
		return "ExternalToolFailure"
	case ConflictDetected:
		return "ConflictDetected"
	case IOError:
		return "IOError"
	default:
		return "Error"
	}
}

// Retryable reports whether the caller may retry the failed operation.
func (k Kind) Retryable() bool {
	return k == LockTimeout
}

// WorkflowError is a structured error with a taxonomy kind and remediation
// guidance.
type WorkflowError struct {
	// Kind is the taxonomy class of the failure.
	Kind Kind
	// Message is a short human-readable description of what went wrong.
	Message string
	// Suggestions is a list of actionable next steps to resolve the error.
	Suggestions []string
	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// New creates a WorkflowError with the given kind, message, and suggestions.
func New(kind Kind, message string, suggestions ...string) *WorkflowError {
	return &WorkflowError{
		Kind:        kind,
		Message:     message,
		Suggestions: suggestions,
	}
}

// Newf creates a WorkflowError with a formatted message.
func Newf(kind Kind, format string, args ...any) *WorkflowError {
	return &WorkflowError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error, preserving it as the cause.
// Returns nil when err is nil.
func Wrap(err error, kind Kind, message string, suggestions ...string) *WorkflowError {
	if err == nil {
		return nil
	}
	return &WorkflowError{
		Kind:        kind,
		Message:     message,
		Suggestions: suggestions,
		Err:         err,
	}
}

// KindOf returns the taxonomy kind of err, or IOError when err is not a
// WorkflowError.
func KindOf(err error) Kind {
	var werr *WorkflowError
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return IOError
}

// Is reports whether err is a WorkflowError of the given kind.
func Is(err error, kind Kind) bool {
	var werr *WorkflowError
	return errors.As(err, &werr) && werr.Kind == kind
}

// As attempts to convert err to a WorkflowError. Returns nil when it isn't one.
func As(err error) *WorkflowError {
	var werr *WorkflowError
	if errors.As(err, &werr) {
		return werr
	}
	return nil
}
