package errors

import (
	"errors"
	"fmt"
)

// Error is a structured pipeline error carrying a code, the stage it
// originated from, and an optional wrapped cause. It satisfies the standard
// error interface and supports errors.Is/errors.As through Unwrap.
type Error struct {
	// Code classifies the failure (see ErrorCode constants).
	Code ErrorCode

	// Stage names the pipeline stage the error originated from
	// (e.g. "test", "build", "gate", "publish"). Empty for errors raised
	// outside stage execution.
	Stage string

	// Message is the human-readable diagnostic.
	Message string

	// cause is the wrapped underlying error, if any.
	cause error
}

// New creates a structured error with the given code and message.
func New(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a structured error wrapping an underlying cause.
// Returns nil if err is nil.
func Wrap(err error, code ErrorCode, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Stage != "" && e.cause != nil:
		return fmt.Sprintf("[%s] %s: %s: %v", e.Code, e.Stage, e.Message, e.cause)
	case e.Stage != "":
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Stage, e.Message)
	case e.cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the wrapped cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithStage returns a copy of the error attributed to the named stage.
func (e *Error) WithStage(stage string) *Error {
	clone := *e
	clone.Stage = stage
	return &clone
}

// CodeOf extracts the ErrorCode from an error chain.
// Returns CodeUnknown if no structured error is found.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// StageOf extracts the originating stage name from an error chain.
// Returns the empty string if no structured error with a stage is found.
func StageOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Stage != "" {
			return e.Stage
		}
		err = e.Unwrap()
	}
	return ""
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Unwrap()
	}
	return false
}
