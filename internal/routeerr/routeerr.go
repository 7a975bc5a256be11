// Package routeerr defines the error taxonomy shared across the gateway
// core. Every component boundary returns either nil or a *routeerr.Error so
// that callers can classify failures without parsing strings.
package routeerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the taxonomy produced by the error classifier (C1) and consumed by
// the Circuit Breaker and Router.
type Kind string

const (
	KindClientError      Kind = "ClientError"
	KindRateLimit        Kind = "RateLimit"
	KindNotFound         Kind = "NotFound"
	KindRetryableNetwork Kind = "RetryableNetwork"
	KindProviderNetwork  Kind = "ProviderNetwork"
	KindCancelled        Kind = "Cancelled"
	KindOther            Kind = "Other"
)

// Error is the typed error surfaced by adapters, the classifier, and the
// router. Code mirrors the upstream HTTP status when one is known.
type Error struct {
	Kind     Kind
	Code     int
	Message  string
	Provider string
	Model    string
	Cause    error

	// Errors carries the chronological attempt chain for an AllModelsFailed
	// response; empty for single-attempt errors.
	Errors []AttemptError
}

func (e *Error) Error() string {
	if e.Provider != "" || e.Model != "" {
		return fmt.Sprintf("%s/%s: %s (%s)", e.Provider, e.Model, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with the given kind.
func New(kind Kind, provider, model, message string) *Error {
	return &Error{Kind: kind, Message: message, Provider: provider, Model: model}
}

// Wrap classifies cause is already known and attaches context.
func Wrap(kind Kind, provider, model string, code int, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, Provider: provider, Model: model, Cause: cause}
}

// WithErrors attaches the attempt chain and returns the same Error (builder
// style, for use at a single call site before returning).
func (e *Error) WithErrors(attempts []AttemptError) *Error {
	e.Errors = attempts
	return e
}

// WithCause attaches the underlying cause (e.g. ctx.Err()) without
// overwriting Message, used where the caller already composed a
// human-readable message.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps the taxonomy to the status code surfaced to gateway
// clients.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindClientError:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindCancelled:
		return 499
	case KindRetryableNetwork, KindProviderNetwork, KindOther:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AttemptError is one entry of RoutingOutcome.Errors — the chronological
// record surfaced in the `_router.errors` response field.
type AttemptError struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Error    string `json:"error"`
	Code     int    `json:"code,omitempty"`
}

// ToAttempt converts a classified Error into the wire-level attempt record.
func ToAttempt(e *Error) AttemptError {
	return AttemptError{Provider: e.Provider, Model: e.Model, Error: e.Message, Code: e.Code}
}
