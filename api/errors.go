// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-evloop.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library. A structured *Error matches the
// sentinel of its code through errors.Is.
var (
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrResourceExhausted = fmt.Errorf("resource exhausted")
	ErrConfiguration     = fmt.Errorf("invalid configuration")
	ErrInternal          = fmt.Errorf("internal error")
	ErrOverloaded        = fmt.Errorf("overloaded")
	ErrShutdown          = fmt.Errorf("shut down")
	ErrNotSupported      = fmt.Errorf("operation not supported")
	ErrNotFound          = fmt.Errorf("resource not found")
	ErrVersionMismatch   = fmt.Errorf("version mismatch")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeConfiguration
	ErrCodeInternal
	ErrCodeOverloaded
	ErrCodeShutdown
	ErrCodeNotSupported
	ErrCodeNotFound
	ErrCodeVersionMismatch
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeInvalidArgument:   ErrInvalidArgument,
	ErrCodeResourceExhausted: ErrResourceExhausted,
	ErrCodeConfiguration:     ErrConfiguration,
	ErrCodeInternal:          ErrInternal,
	ErrCodeOverloaded:        ErrOverloaded,
	ErrCodeShutdown:          ErrShutdown,
	ErrCodeNotSupported:      ErrNotSupported,
	ErrCodeNotFound:          ErrNotFound,
	ErrCodeVersionMismatch:   ErrVersionMismatch,
}

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeResourceExhausted:
		return "resource_exhausted"
	case ErrCodeConfiguration:
		return "configuration"
	case ErrCodeInternal:
		return "internal"
	case ErrCodeOverloaded:
		return "overloaded"
	case ErrCodeShutdown:
		return "shutdown"
	case ErrCodeNotSupported:
		return "not_supported"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeVersionMismatch:
		return "version_mismatch"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of this error's code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code
	}
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap records cause as the underlying error.
func (e *Error) Wrap(cause error) *Error {
	e.Err = cause
	return e
}

// CodeOf extracts the ErrorCode carried by err, ErrCodeInternal for foreign
// errors and ErrCodeOK for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, s := range codeSentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return ErrCodeInternal
}
