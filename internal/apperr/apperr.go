// Package apperr defines the error taxonomy shared by all request handlers.
// Every failure a handler can surface maps to exactly one Kind, and each Kind
// maps to one HTTP status, so the JSON envelope a client sees is uniform
// across the API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindAuth          Kind = "AUTH"
	KindForbidden     Kind = "FORBIDDEN"
	KindLimitExceeded Kind = "LIMIT_EXCEEDED"
	KindSignature     Kind = "SIGNATURE"
	KindUpstream      Kind = "UPSTREAM"
	KindInternal      Kind = "INTERNAL"
)

// Error is a classified application error. Wrap the underlying cause so
// errors.Is/As keep working through the classification.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a client-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(msg string) *Error    { return New(KindValidation, msg) }
func NotFound(msg string) *Error      { return New(KindNotFound, msg) }
func Auth(msg string) *Error          { return New(KindAuth, msg) }
func Forbidden(msg string) *Error     { return New(KindForbidden, msg) }
func LimitExceeded(msg string) *Error { return New(KindLimitExceeded, msg) }
func Signature(msg string) *Error     { return New(KindSignature, msg) }

// Upstream classifies a failed third-party call (Shopify, email, payment).
func Upstream(msg string, err error) *Error { return Wrap(KindUpstream, msg, err) }

// Status returns the HTTP status code for an error. Unclassified errors are
// internal server errors.
func Status(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth, KindSignature:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindLimitExceeded:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for an error. Unclassified
// errors never leak their text to clients.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal server error"
}

// KindOf returns the Kind for a classified error, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}
