package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing failures.
const (
	// ErrUnavailable marks a single metric family that could not be read this tick.
	ErrUnavailable = "UNAVAILABLE"
	// ErrRegression marks a cumulative counter that went backwards.
	ErrRegression = "REGRESSION"
	// ErrAcquisition marks a failure of the OS metric interface as a whole.
	ErrAcquisition = "ACQUISITION"
	// ErrRender marks a failure in the presentation layer.
	ErrRender = "RENDER"
	// ErrConfig marks invalid flags, environment or config file values.
	ErrConfig = "CONFIG"
)

// Error is a structured error with code, message, suggestion, and optional cause.
// It renders as:
//
//	✗ <What failed>
//
//	  <Why it failed>
//
//	  <How to fix it>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrAcquisition.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrAcquisition,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Unavailable reports that a metric family could not be read.
func Unavailable(family string, cause error) *Error {
	return &Error{
		Code:    ErrUnavailable,
		Message: fmt.Sprintf("%s metrics unavailable", family),
		Cause:   cause,
	}
}

// Regression reports a cumulative counter that went backwards, typically a
// driver reload or counter wrap. The rate for that tick is reported as zero.
func Regression(counter string, previous, current float64) *Error {
	return &Error{
		Code:       ErrRegression,
		Message:    fmt.Sprintf("counter %s went backwards (%.0f -> %.0f)", counter, previous, current),
		Suggestion: "rate reset",
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var smErr *Error
	if errors.As(err, &smErr) {
		return smErr.Code == code
	}
	return false
}
