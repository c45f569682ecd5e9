// Package errs defines the tagged-variant error taxonomy shared by every
// pipeline component, so HTTP handlers and the worker pool can branch on
// error kind without string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error classes named in the generation pipeline spec.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindUnauthenticated     Kind = "unauthenticated"
	KindTokenExpired        Kind = "token_expired"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindEnqueueFailed       Kind = "enqueue_failed"
	KindThrottled           Kind = "throttled"
	KindBackendUnavailable  Kind = "backend_unavailable"
	KindPolicyBlocked       Kind = "policy_blocked"
	KindDeadLettered        Kind = "dead_lettered"
	KindInternal            Kind = "internal"
)

// Error is the tagged-variant wrapper. Every layer that returns one of the
// kinds above wraps it with fmt.Errorf("...: %w", err) so %w chains stay
// intact while Kind/Transient remain inspectable via errors.As.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the worker pool should leave the queue message
// unacked (so visibility-timeout redelivery retries it) rather than failing
// the job outright.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindThrottled, KindBackendUnavailable, KindInternal:
		return true
	default:
		return false
	}
}

// New constructs a tagged error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a tagged error chaining an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// As extracts a *Error from err, if present.
func As(err error) (*Error, bool) {
	var target *Error
	ok := errors.As(err, &target)
	return target, ok
}
