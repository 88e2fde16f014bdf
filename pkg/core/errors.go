// Package core provides shared plumbing for stopsync: the fetch error taxonomy,
// the bounded retry policy and the Overpass query builder.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies failures of external fetches.
type ErrorCode string

// Standard error codes
const (
	// Retryable
	ErrTransient ErrorCode = "TRANSIENT"
	ErrService   ErrorCode = "SERVICE"

	// Fatal immediately
	ErrAuth    ErrorCode = "AUTH"
	ErrRequest ErrorCode = "REQUEST"

	// Local failures
	ErrParse    ErrorCode = "PARSE"
	ErrInternal ErrorCode = "INTERNAL"
)

// FetchError describes a failed call to an external service.
type FetchError struct {
	Code     ErrorCode `json:"code"`
	Service  string    `json:"service,omitempty"`
	Status   int       `json:"status,omitempty"`
	Message  string    `json:"message"`
	Body     string    `json:"body,omitempty"`
	Guidance string    `json:"guidance,omitempty"`
	Err      error     `json:"-"`
}

// Error implements the error interface
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Guidance != "" {
		msg = fmt.Sprintf("%s. %s", msg, e.Guidance)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may go away on its own.
func (e *FetchError) Retryable() bool {
	return e.Code == ErrTransient || e.Code == ErrService
}

// NewError creates a new FetchError with the given code and message
func NewError(code ErrorCode, message string) *FetchError {
	return &FetchError{
		Code:    code,
		Message: message,
	}
}

// WithService records which collaborator failed.
func (e *FetchError) WithService(service string) *FetchError {
	e.Service = service
	return e
}

// WithGuidance adds guidance information to the error
func (e *FetchError) WithGuidance(guidance string) *FetchError {
	e.Guidance = guidance
	return e
}

// WithBody attaches the diagnostic response body.
func (e *FetchError) WithBody(body string) *FetchError {
	e.Body = body
	return e
}

// WithCause attaches the underlying error.
func (e *FetchError) WithCause(err error) *FetchError {
	e.Err = err
	return e
}

// ServiceError classifies an HTTP status returned by an external service.
func ServiceError(service string, statusCode int, message string) *FetchError {
	var code ErrorCode
	var guidance string

	switch statusCode {
	case http.StatusTooManyRequests:
		code = ErrTransient
		guidance = "The service is rate-limited"
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusRequestTimeout:
		code = ErrTransient
		guidance = "The service is temporarily unavailable"
	case http.StatusUnauthorized, http.StatusForbidden:
		code = ErrAuth
		guidance = "Check the credentials or whether the client is blocked"
	case http.StatusBadRequest, http.StatusConflict, http.StatusPreconditionFailed:
		code = ErrRequest
		guidance = "The request was rejected; see the response body"
	default:
		if statusCode >= 500 {
			code = ErrService
			guidance = "The server encountered an error"
		} else {
			code = ErrRequest
			guidance = "The request was rejected"
		}
	}

	e := NewError(code, fmt.Sprintf("%s service error: %s", service, message)).
		WithService(service).
		WithGuidance(guidance)
	e.Status = statusCode
	return e
}

// NetworkError wraps a transport-level failure as transient.
func NetworkError(service string, err error) *FetchError {
	return NewError(ErrTransient, fmt.Sprintf("%s request failed: %v", service, err)).
		WithService(service).
		WithCause(err)
}

// IsCode reports whether err carries a FetchError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// CodeOf returns the code of the FetchError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrInternal
}
