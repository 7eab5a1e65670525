// Package fault defines the error kinds surfaced by the core workflows and
// helpers to classify provider/SDK errors into them.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// AuthRequired means a credential is missing or revoked; the user must reconnect.
	AuthRequired Kind = "auth_required"
	// Busy means a duplicate in-flight workflow for the same (user, source) or plan.
	Busy Kind = "busy"
	// RateLimited means a provider or LLM throttled us past the retry budget.
	RateLimited Kind = "rate_limited"
	// Transient is a retryable network/5xx failure that exhausted its retries.
	Transient Kind = "transient"
	// InvalidRequest is a schema violation from the caller or provider; never retried.
	InvalidRequest Kind = "invalid_request"
	// Conflict is a sync conflict awaiting user resolution.
	Conflict Kind = "conflict"
	// Degraded means the operation completed but an optional stage failed.
	Degraded Kind = "degraded"
	// Unknown is anything unclassified.
	Unknown Kind = "unknown"
)

// Error carries a kind plus a human-readable cause.
type Error struct {
	Kind  Kind
	Cause string
	Err   error
}

func (e *Error) Error() string {
	if e.Cause != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Cause, e.Err)
	}
	if e.Cause != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fault with a kind and cause message.
func New(kind Kind, cause string) error {
	return &Error{Kind: kind, Cause: cause}
}

// Newf creates a fault with a formatted cause.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Cause: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, cause string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: cause, Err: err}
}

// KindOf extracts the kind from an error chain, Unknown if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// Retryable reports whether the error is worth retrying with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case RateLimited, Transient:
		return true
	}
	return false
}

// Classify maps raw SDK/provider errors to a kind by message inspection.
// Providers rarely expose typed errors, so this mirrors how their HTTP
// statuses leak into error strings.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err // already classified
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden", "invalid_grant", "token expired", "token revoked"):
		return &Error{Kind: AuthRequired, Err: err}
	case containsAny(msg, "429", "rate limit", "quota", "too many requests"):
		return &Error{Kind: RateLimited, Err: err}
	case containsAny(msg, "500", "502", "503", "504", "connection", "eof", "timeout", "deadline", "dial", "refused", "reset by peer", "temporarily unavailable"):
		return &Error{Kind: Transient, Err: err}
	case containsAny(msg, "400", "422", "invalid request", "schema", "malformed", "bad request"):
		return &Error{Kind: InvalidRequest, Err: err}
	}
	return &Error{Kind: Unknown, Err: err}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
