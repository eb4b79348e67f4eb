// Package proxyerr defines the classified error values that drive the
// dispatch retry loop. Upstream failures are data, not exceptions: adapters
// return an *Error with a status hint and the orchestrator alone decides
// whether to retry, mark the account, or surface the failure.
package proxyerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the error class.
type Kind string

const (
	// KindConfigMissing: no accounts configured for the selected backend.
	KindConfigMissing Kind = "config_missing"
	// KindUnavailable: every account is cooling and the wait is too long.
	KindUnavailable Kind = "unavailable"
	// KindUnauthorized: upstream 401/403; the account gets invalidated.
	KindUnauthorized Kind = "unauthorized"
	// KindRateLimited: upstream 429; the account gets a cooldown.
	KindRateLimited Kind = "rate_limited"
	// KindUpstream: other upstream non-2xx, surfaced verbatim after retries.
	KindUpstream Kind = "upstream"
	// KindTransport: network-level failure.
	KindTransport Kind = "transport"
	// KindContractViolation: malformed canonical request, never retried.
	KindContractViolation Kind = "contract_violation"
	// KindStreamEmpty: backend produced no content.
	KindStreamEmpty Kind = "stream_empty"
)

// Error is a classified proxy error.
type Error struct {
	Kind       Kind
	StatusCode int    // upstream status hint, 0 when not applicable
	Message    string
	Body       string // upstream body, surfaced verbatim for Upstream errors
	// RetryAfterMs is the parsed cooldown hint for RateLimited errors,
	// or the minimum pool wait for Unavailable errors.
	RetryAfterMs int64
	cause        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// New builds a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a classified error with formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// FromStatus classifies an upstream HTTP status and body.
func FromStatus(status int, body string) *Error {
	e := &Error{StatusCode: status, Body: body, Message: http.StatusText(status)}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Kind = KindUnauthorized
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	default:
		e.Kind = KindUpstream
	}
	return e
}

// As extracts a classified error from any error chain.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind Kind) bool {
	if pe, ok := As(err); ok {
		return pe.Kind == kind
	}
	return false
}

// ClientStatus maps an error to the HTTP status returned to the client.
func ClientStatus(err error) int {
	pe, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch pe.Kind {
	case KindConfigMissing, KindUnavailable:
		return http.StatusServiceUnavailable
	case KindContractViolation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		if pe.StatusCode >= 400 {
			return pe.StatusCode
		}
		return http.StatusBadGateway
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// APIErrorType maps an error to the Anthropic-style error type string.
func APIErrorType(err error) string {
	pe, ok := As(err)
	if !ok {
		return "api_error"
	}
	switch pe.Kind {
	case KindContractViolation:
		return "invalid_request_error"
	case KindUnauthorized:
		return "authentication_error"
	case KindRateLimited:
		return "rate_limit_error"
	case KindConfigMissing, KindUnavailable:
		return "overloaded_error"
	default:
		return "api_error"
	}
}
