// Package apperr defines the error taxonomy shared by the persistence gateway
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the purpose of building a client response.
type Kind string

const (
	KindValidation Kind = "VALIDATION_ERROR"
	KindNotFound   Kind = "NOT_FOUND"
	KindInternal   Kind = "INTERNAL_ERROR"
)

// Client-facing messages for the non-validation kinds.
const (
	MsgJobNotFound = "Job not found"
	MsgServerError = "Server Error"
)

// Error is a classified application error. Err holds the underlying cause,
// which is logged but never returned to clients for internal errors.
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

// Validation builds a 400-class error whose message is shown to the client.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NotFound builds the 404-class error for an unknown job id.
func NotFound() *Error {
	return &Error{Kind: KindNotFound, Message: MsgJobNotFound}
}

// Internal wraps a store or connectivity failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op, Err: err}
}

// KindOf normalizes any error to a Kind. Unclassified errors are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// HTTPStatus maps err to the response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the text that may be exposed in a response envelope.
func ClientMessage(err error) string {
	var ae *Error
	if !errors.As(err, &ae) {
		return MsgServerError
	}
	switch ae.Kind {
	case KindValidation:
		return ae.Message
	case KindNotFound:
		return MsgJobNotFound
	default:
		return MsgServerError
	}
}
