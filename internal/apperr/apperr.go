// Package apperr carries typed error kinds from the service layer to the HTTP
// edge. Services wrap failures in an *Error with the kind that describes what
// went wrong; handlers translate the kind to a status code and wire code in
// exactly one place.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. The zero Kind is unknown and maps to 500.
type Kind int

const (
	InputInvalid Kind = iota + 1
	Unauthorized
	Forbidden
	AccessDenied
	NotFound
	Gone
	Conflict
	SessionExpired
	InvalidIssuer
	ChallengeMismatch
	DomainMismatch
	IntegrityViolation
	UpstreamError
)

var kindCodes = map[Kind]string{
	InputInvalid:       "INPUT_INVALID",
	Unauthorized:       "UNAUTHORIZED",
	Forbidden:          "FORBIDDEN",
	AccessDenied:       "ACCESS_DENIED",
	NotFound:           "NOT_FOUND",
	Gone:               "GONE",
	Conflict:           "CONFLICT",
	SessionExpired:     "SESSION_EXPIRED",
	InvalidIssuer:      "INVALID_ISSUER",
	ChallengeMismatch:  "CHALLENGE_MISMATCH",
	DomainMismatch:     "DOMAIN_MISMATCH",
	IntegrityViolation: "INTEGRITY_VIOLATION",
	UpstreamError:      "UPSTREAM_ERROR",
}

var kindStatus = map[Kind]int{
	InputInvalid:       http.StatusBadRequest,
	Unauthorized:       http.StatusUnauthorized,
	SessionExpired:     http.StatusUnauthorized,
	Forbidden:          http.StatusForbidden,
	AccessDenied:       http.StatusForbidden,
	InvalidIssuer:      http.StatusForbidden,
	ChallengeMismatch:  http.StatusForbidden,
	DomainMismatch:     http.StatusForbidden,
	NotFound:           http.StatusNotFound,
	Conflict:           http.StatusConflict,
	Gone:               http.StatusGone,
	IntegrityViolation: http.StatusInternalServerError,
	UpstreamError:      http.StatusBadGateway,
}

// Code returns the wire code for the kind, e.g. "ACCESS_DENIED".
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return "INTERNAL"
}

// HTTPStatus returns the status code the kind maps to.
func (k Kind) HTTPStatus() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a failure tagged with a Kind. Message is safe to return to
// clients; Err holds the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted client-safe message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and client-safe message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, unwrapping as needed. Untyped errors
// report kind 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the client-safe message of err, or a generic fallback for
// untyped errors.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
