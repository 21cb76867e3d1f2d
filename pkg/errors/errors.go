// Package errors provides structured error handling for Tidemark
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"

	// ErrorTypeRequestRejected represents a non-retryable vendor rejection
	// (bad request parameters, invalid credentials, permission denied).
	ErrorTypeRequestRejected ErrorType = "request_rejected"
	// ErrorTypeRateLimited represents a vendor throttle signal for a single
	// attempt. It is retryable with backoff.
	ErrorTypeRateLimited ErrorType = "rate_limited"
	// ErrorTypeRateLimitExhausted represents throttle retries being used up.
	ErrorTypeRateLimitExhausted ErrorType = "rate_limit_exhausted"
	// ErrorTypeTransient represents a retryable 5xx or timeout failure.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeAuthExpired represents an expired auth capability. The vendor
	// client refreshes the capability once per request before giving up.
	ErrorTypeAuthExpired ErrorType = "auth_expired"
	// ErrorTypePaginationLimitExceeded represents runaway pagination.
	ErrorTypePaginationLimitExceeded ErrorType = "pagination_limit_exceeded"
	// ErrorTypeSchemaMismatch represents a normalization coercion failure.
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	// ErrorTypeSchemaIncompatible represents a sink schema mismatch.
	ErrorTypeSchemaIncompatible ErrorType = "schema_incompatible"
	// ErrorTypeSerialization represents a sink serialization failure.
	ErrorTypeSerialization ErrorType = "serialization"
	// ErrorTypeUpload represents a sink upload or write failure.
	ErrorTypeUpload ErrorType = "upload"
	// ErrorTypeCancelled represents run cancellation or timeout.
	ErrorTypeCancelled ErrorType = "cancelled"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is retryable with backoff.
// Vendor rejections and schema failures never are.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimited, ErrorTypeTransient, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the error type, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
