// Package ferrors defines the named error kinds used throughout the daemon
// so callers can branch with errors.Is/errors.As instead of string matching.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the core's propagation policy requires.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInvalidTransition Kind = "invalid_transition"
	KindNotFound          Kind = "not_found"
	KindIO                Kind = "io"
	KindAgentSession      Kind = "agent_session"
	KindGuardrailBreach   Kind = "guardrail_breach"
	KindProviderTransient Kind = "provider_transient"
)

// Error wraps an underlying cause with a Kind and a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &ferrors.Error{Kind: ferrors.KindNotFound})-style
// checks by matching on Kind alone (a *Error{Kind: K} sentinel with no
// message/cause).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func new_(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Validation(format string, args ...interface{}) *Error {
	return new_(KindValidation, nil, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return new_(KindInvalidTransition, nil, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return new_(KindNotFound, nil, format, args...)
}

func IO(cause error, format string, args ...interface{}) *Error {
	return new_(KindIO, cause, format, args...)
}

func AgentSession(format string, args ...interface{}) *Error {
	return new_(KindAgentSession, nil, format, args...)
}

func GuardrailBreach(format string, args ...interface{}) *Error {
	return new_(KindGuardrailBreach, nil, format, args...)
}

func ProviderTransient(format string, args ...interface{}) *Error {
	return new_(KindProviderTransient, nil, format, args...)
}

// Is reports whether err's Kind matches kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
