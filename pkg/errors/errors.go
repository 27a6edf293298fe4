// Package errors carries the service's typed error: a stable Code that maps to
// an HTTP status and a public message, plus an optional cause and details.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeConfiguration Code = "CONFIGURATION_ERROR"
	CodeUpstream      Code = "UPSTREAM_ERROR"
)

// Metadata is how a Code is presented to API clients. When ExposeMessage is
// false the client sees PublicMessage instead of the error's own message.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	ExposeMessage  bool
}

// Columns: status, retryable, public message, details allowed, expose message.
var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, false, "validation failed", true, true},
	CodeUnauthorized:  {http.StatusUnauthorized, false, "authentication required", false, true},
	CodeForbidden:     {http.StatusForbidden, false, "access denied", false, true},
	CodeNotFound:      {http.StatusNotFound, false, "resource not found", false, true},
	CodeConflict:      {http.StatusConflict, false, "conflict detected", true, true},
	CodeStateConflict: {http.StatusUnprocessableEntity, false, "state transition disallowed", true, true},
	CodeIdempotency:   {http.StatusConflict, false, "idempotency key reused", true, true},
	CodeRateLimit:     {http.StatusTooManyRequests, false, "rate limit exceeded", false, true},
	CodeInternal:      {http.StatusInternalServerError, true, "internal server error", false, false},
	CodeDependency:    {http.StatusServiceUnavailable, true, "dependency unavailable", true, false},
	CodeConfiguration: {http.StatusInternalServerError, false, "server configuration incomplete", false, true},
	CodeUpstream:      {http.StatusBadGateway, true, "upstream provider error", true, true},
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code       Code
	message    string
	details    any
	cause      error
	httpStatus int
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err yields New(code, message).
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Code on a nil *Error reports CodeInternal.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// WithHTTPStatus overrides the code's status, e.g. to echo a provider's
// response status. Values outside 4xx/5xx are ignored.
func (e *Error) WithHTTPStatus(status int) *Error {
	if e != nil {
		e.httpStatus = status
	}
	return e
}

func (e *Error) HTTPStatus() int {
	switch {
	case e == nil:
		return http.StatusInternalServerError
	case e.httpStatus >= 400 && e.httpStatus <= 599:
		return e.httpStatus
	}
	return MetadataFor(e.code).HTTPStatus
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err's outermost *Error carries code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
