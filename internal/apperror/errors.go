// Package apperror defines the sum-typed error taxonomy used across the agent.
//
// Every error the broker session or trading loop can produce is tagged with a
// Kind so callers can decide policy (retry, abort, surface) without parsing
// error strings.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/propagation policy.
type Kind int

const (
	// KindConfig is a missing or invalid configuration value. Always fatal at startup.
	KindConfig Kind = iota
	// KindTransport is a TLS/socket I/O failure. Retried via reconnect.
	KindTransport
	// KindAuthFailed is a hard credential rejection from the broker. Counted; fatal past threshold.
	KindAuthFailed
	// KindNotAuthenticated is a mid-session "not authenticated" code. Transient; forces reconnect.
	KindNotAuthenticated
	// KindAlreadyLoggedIn is accepted as success with a warning.
	KindAlreadyLoggedIn
	// KindAPIError wraps a protocol-level error response (code + description).
	KindAPIError
	// KindTimeout is a waiter that exceeded its deadline.
	KindTimeout
	// KindOrderRejected is a broker order rejection. Surfaced; not retried automatically.
	KindOrderRejected
	// KindPersistence is a storage failure. Logged; in-memory state remains authoritative.
	KindPersistence
	// KindCancelled is cooperative cancellation. Propagated quietly.
	KindCancelled
	// KindProtocol is a malformed or unexpected wire payload.
	KindProtocol
	// KindNotFound is a lookup that found nothing (e.g. unresolvable symbol name).
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindTransport:
		return "Transport"
	case KindAuthFailed:
		return "AuthFailed"
	case KindNotAuthenticated:
		return "NotAuthenticated"
	case KindAlreadyLoggedIn:
		return "AlreadyLoggedIn"
	case KindAPIError:
		return "ApiError"
	case KindTimeout:
		return "Timeout"
	case KindOrderRejected:
		return "OrderRejected"
	case KindPersistence:
		return "Persistence"
	case KindCancelled:
		return "Cancelled"
	case KindProtocol:
		return "Protocol"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carrying a Kind, message, and optional
// protocol code/cause.
type Error struct {
	Kind    Kind
	Message string
	Code    string // protocol error code, set for KindAPIError / KindOrderRejected
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewAPIError constructs a KindAPIError carrying the broker's code/description.
func NewAPIError(code, description string) *Error {
	return &Error{Kind: KindAPIError, Message: description, Code: code}
}

// Is reports whether err is (or wraps) an *Error with the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is an *Error, and ok=true; otherwise
// ok=false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Retryable reports whether the error kind is one the transport/reconnect
// layer should retry automatically (transient I/O or session-level codes).
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindTransport, KindNotAuthenticated, KindTimeout:
		return true
	default:
		return false
	}
}

// Fatal reports whether the error kind should shut the process down with a
// clear message (configuration errors, or terminal auth failure).
func Fatal(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return kind == KindConfig || kind == KindAuthFailed
}
