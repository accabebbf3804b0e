package model

import (
	"errors"
	"fmt"
)

// TimeoutExitCode is the reserved exit status for timeouts.
const TimeoutExitCode = 124

// ErrorKind classifies bridge failures.
type ErrorKind string

const (
	KindUsage          ErrorKind = "usage"
	KindNoTarget       ErrorKind = "no_target"
	KindCapacity       ErrorKind = "capacity"
	KindTaskNotFound   ErrorKind = "task_not_found"
	KindIdleTimeout    ErrorKind = "idle_timeout"
	KindOverallTimeout ErrorKind = "overall_timeout"
	KindExtraction     ErrorKind = "extraction"
	KindSequence       ErrorKind = "sequence"
	KindTransport      ErrorKind = "transport"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrUsage          = &Error{Kind: KindUsage}
	ErrNoTarget       = &Error{Kind: KindNoTarget}
	ErrCapacity       = &Error{Kind: KindCapacity}
	ErrTaskNotFound   = &Error{Kind: KindTaskNotFound}
	ErrIdleTimeout    = &Error{Kind: KindIdleTimeout}
	ErrOverallTimeout = &Error{Kind: KindOverallTimeout}
	ErrExtraction     = &Error{Kind: KindExtraction}
	ErrSequence       = &Error{Kind: KindSequence}
	ErrTransport      = &Error{Kind: KindTransport}
)

// Error is a bridge failure carrying a human-actionable hint and, for
// timeouts, whatever output was captured before the command was killed.
type Error struct {
	Kind ErrorKind
	// Msg is the one-line description.
	Msg string
	// Hint tells the agent what to do or what to ask the human for.
	Hint string
	// Partial is output captured before a timeout, possibly empty.
	Partial string
	// Cause is the underlying error, if any.
	Cause error
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithHint returns e with the hint set.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithPartial returns e with partial output attached.
func (e *Error) WithPartial(partial string) *Error {
	e.Partial = partial
	return e
}

// Wrap returns e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Hint != "" {
		msg += "\n\n" + e.Hint
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNoTarget) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsTimeout reports whether the error is an idle or overall timeout.
func (e *Error) IsTimeout() bool {
	return e.Kind == KindIdleTimeout || e.Kind == KindOverallTimeout
}

// ExitCode returns the process exit status for the error.
func (e *Error) ExitCode() int {
	if e.IsTimeout() {
		return TimeoutExitCode
	}
	return 1
}

// ExitCodeOf maps any error to a process exit status: 0 for nil, 124 for
// timeouts, 1 otherwise.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var be *Error
	if errors.As(err, &be) {
		return be.ExitCode()
	}
	return 1
}
