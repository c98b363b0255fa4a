// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for tinyws.

package api

import "fmt"

// Common errors used across the library.
var (
	ErrSessionClosed    = fmt.Errorf("session is closed")
	ErrListenerRunning  = fmt.Errorf("listener already running")
	ErrListenerStopped  = fmt.Errorf("listener is not running")
	ErrInvalidArgument  = fmt.Errorf("invalid argument")
	ErrNoPortAvailable  = fmt.Errorf("no candidate port could be bound")
	ErrOperationTimeout = fmt.Errorf("operation timeout")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeBindFailed
	ErrCodeAcceptFailed
	ErrCodeTimeout
	ErrCodeInternal
)

// String returns a short name for the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeBindFailed:
		return "bind_failed"
	case ErrCodeAcceptFailed:
		return "accept_failed"
	case ErrCodeTimeout:
		return "timeout"
	default:
		return "internal"
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
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
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

// Wrap attaches the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}
