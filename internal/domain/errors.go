package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a run failure for recovery decisions
type ErrorKind string

const (
	// ErrFatalSetup covers missing agent scripts and workspace creation
	// failures. Surfaced immediately, never recovered.
	ErrFatalSetup ErrorKind = "fatal_setup"
	// ErrExecution covers a non-zero exit without the completion sentinel.
	// Eligible for recovery.
	ErrExecution ErrorKind = "execution"
	// ErrLiveness covers output-silence timeouts, recorded distinctly so
	// "agent hung" is distinguishable from "agent errored".
	ErrLiveness ErrorKind = "liveness"
	// ErrRecoveryExhausted marks a run permanently failed after the maximum
	// recovery attempts.
	ErrRecoveryExhausted ErrorKind = "recovery_exhausted"
)

// RunError carries the failure taxonomy for one run outcome
type RunError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RunError) Unwrap() error { return e.Cause }

// NewRunError builds a RunError wrapping an optional cause
func NewRunError(kind ErrorKind, message string, cause error) *RunError {
	return &RunError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrExecution for
// plain errors so unclassified failures stay recoverable.
func KindOf(err error) ErrorKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ErrExecution
}

// IsFatalSetup reports whether err must not be retried
func IsFatalSetup(err error) bool {
	return KindOf(err) == ErrFatalSetup
}
