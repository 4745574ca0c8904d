// Package apperr carries the error taxonomy shared by the booking service and
// the HTTP layer. Every user-facing failure is an *Error with a stable code;
// the web layer maps codes to HTTP statuses without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeConflict     = "CONFLICT"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidState = "INVALID_STATE"
	CodeTooLate      = "TOO_LATE"
	CodeRateLimited  = "RATE_LIMITED"
	CodeTransport    = "TRANSPORT_ERROR"
	CodeProtocol     = "PROTOCOL_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) StatusCode() int { return e.HTTPStatus }

func New(code, message string, httpStatus int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code, message string, httpStatus int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...), http.StatusBadRequest)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, fmt.Sprintf(format, args...), http.StatusConflict)
}

func NotFound(resource string) *Error {
	return New(CodeNotFound, resource+" not found", http.StatusNotFound)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidState(format string, args ...any) *Error {
	return New(CodeInvalidState, fmt.Sprintf(format, args...), http.StatusBadRequest)
}

func TooLate(message string) *Error {
	return New(CodeTooLate, message, http.StatusConflict)
}

func RateLimited(message string) *Error {
	return New(CodeRateLimited, message, http.StatusTooManyRequests)
}

func Internal(err error, message string) *Error {
	return Wrap(err, CodeInternal, message, http.StatusInternalServerError)
}

// AsError normalizes anything into an *Error so the HTTP layer always has a
// code and status to write.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "internal error")
}

// CodeOf returns the taxonomy code of err, or CodeInternal for plain errors.
func CodeOf(err error) string {
	return AsError(err).Code
}
