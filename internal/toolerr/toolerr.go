// Package toolerr defines the error taxonomy shared by tools, the JSON-RPC
// dispatcher, and the orchestrator.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind classifies a tool failure. The dispatcher renders the kind into the
// JSON-RPC error message; the orchestrator uses it to decide fatal vs soft.
type Kind string

const (
	// BadRequest indicates a schema violation, mutually exclusive fields, or
	// an unknown method. Never retried.
	BadRequest Kind = "BadRequest"
	// BackendTransient indicates a retryable upstream failure (429, 5xx).
	BackendTransient Kind = "BackendTransient"
	// BackendPermanent indicates a non-retryable upstream failure.
	BackendPermanent Kind = "BackendPermanent"
	// InvalidOutput indicates the upstream returned data that failed schema
	// validation after retries were exhausted.
	InvalidOutput Kind = "InvalidOutput"
	// ResourceMissing indicates a referenced dataset or file does not exist.
	ResourceMissing Kind = "ResourceMissing"
	// Deadline indicates the request-level timeout elapsed.
	Deadline Kind = "Deadline"
)

// Error is a classified tool error. The message is safe to surface to
// callers; it never carries stack traces.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New creates an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that records err as its cause. The cause is kept for
// server-side logging only; Error() does not include it unless the message
// already does.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the Kind from err, walking the wrap chain. Unclassified
// errors report BackendPermanent, the conservative default.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return BackendPermanent
}

// IsRetryable reports whether err should be retried under the standard
// policy: only transient backend failures qualify.
func IsRetryable(err error) bool {
	return KindOf(err) == BackendTransient
}

// FromStatus classifies an HTTP-like status code. Statuses 429 and the 5xx
// gateway family are transient; everything else is permanent.
func FromStatus(status int, msg string) *Error {
	switch status {
	case 429, 500, 502, 503, 504:
		return New(BackendTransient, "status %d: %s", status, msg)
	default:
		return New(BackendPermanent, "status %d: %s", status, msg)
	}
}
