package forward

import (
	"errors"
	"fmt"
)

// Sentinel errors for forwarding operations.
var (
	// ErrNoTarget indicates that a matched rule produced no usable
	// target after hook execution: a caller misconfiguration.
	ErrNoTarget = errors.New("no forward target resolved")

	// ErrHookNoResponse indicates that an interception hook declined
	// to forward without supplying a response.
	ErrHookNoResponse = errors.New("interception hook declined without response")

	// ErrExhausted indicates that all retry attempts failed.
	ErrExhausted = errors.New("forward retries exhausted")
)

// Error is a forwarding failure with context.
type Error struct {
	Op      string
	Rule    string
	Target  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("forward error [%s] rule=%s", e.Op, e.Rule)
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok || errors.Is(e.Cause, target)
}

// newError creates a forwarding error.
func newError(op, rule, target, message string, cause error) *Error {
	return &Error{Op: op, Rule: rule, Target: target, Message: message, Cause: cause}
}
