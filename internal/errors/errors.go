// Package errors defines the kind-tagged error type used across the storage
// and event engine, ported from storage-node's StorageError but mapped to
// HTTP status instead of gRPC status since there is no inter-node RPC here.
package errors

import (
	"fmt"
	"net/http"
)

// Code is one of the kind-tags from the error taxonomy.
type Code string

const (
	CodeInvalidArgument Code = "invalid_argument"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeUnavailable      Code = "unavailable"
	CodeIOError          Code = "io_error"
	CodeInternal         Code = "internal"
)

// KissError is a structured error with a kind tag, a human message, optional
// structured details, and an optional wrapped cause.
type KissError struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *KissError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *KissError) Unwrap() error { return e.Cause }

// WithDetail attaches a detail key/value and returns the receiver for
// chaining.
func (e *KissError) WithDetail(key string, value any) *KissError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ToHTTPStatus maps the kind tag to the HTTP status code the API surface
// responds with.
func (e *KissError) ToHTTPStatus() int {
	switch e.Code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeIOError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string, cause error) *KissError {
	return &KissError{Code: code, Message: message, Cause: cause}
}

func InvalidArgument(format string, args ...any) *KissError {
	return New(CodeInvalidArgument, fmt.Sprintf(format, args...), nil)
}

func NotFound(format string, args ...any) *KissError {
	return New(CodeNotFound, fmt.Sprintf(format, args...), nil)
}

func Conflict(format string, args ...any) *KissError {
	return New(CodeConflict, fmt.Sprintf(format, args...), nil)
}

func Unavailable(format string, args ...any) *KissError {
	return New(CodeUnavailable, fmt.Sprintf(format, args...), nil)
}

func IOError(message string, cause error) *KissError {
	return New(CodeIOError, message, cause)
}

func Internal(message string, cause error) *KissError {
	return New(CodeInternal, message, cause)
}

// IsCode reports whether err is a *KissError carrying the given code.
func IsCode(err error, code Code) bool {
	ke, ok := err.(*KissError)
	return ok && ke.Code == code
}

// GetCode extracts the code from err, defaulting to CodeInternal for
// anything that isn't a *KissError (an invariant violation, per spec.md §7).
func GetCode(err error) Code {
	if ke, ok := err.(*KissError); ok {
		return ke.Code
	}
	return CodeInternal
}
