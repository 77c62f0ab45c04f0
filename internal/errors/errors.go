// Package errors defines the structured error type used across kiln. Errors
// carry a category, a stable code, and a recoverability hint so the dev loop
// can decide whether a failure aborts the process or only the current rebuild.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeBuild    ErrorType = "build"
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeInternal ErrorType = "internal"
)

// KilnError is a structured error type with context.
type KilnError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Component   string
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *KilnError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *KilnError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *KilnError) Is(target error) bool {
	var t *KilnError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithComponent records the subsystem the error originated from.
func (e *KilnError) WithComponent(component string) *KilnError {
	e.Component = component
	return e
}

// WithFile records the file the error relates to.
func (e *KilnError) WithFile(path string) *KilnError {
	e.FilePath = path
	return e
}

// NewIOError creates an I/O error. I/O errors during a rebuild are
// recoverable: the previous output tree stays live.
func NewIOError(code, message string, cause error) *KilnError {
	return &KilnError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *KilnError {
	return &KilnError{
		Type:        ErrorTypeBuild,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewNetworkError creates a network error. Bind and accept failures are fatal
// to the server instance that hit them, never to the whole process.
func NewNetworkError(code, message string, cause error) *KilnError {
	return &KilnError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *KilnError {
	return &KilnError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable reports whether the error allows the dev loop to continue
// serving the previous build.
func IsRecoverable(err error) bool {
	var ke *KilnError
	if errors.As(err, &ke) {
		return ke.Recoverable
	}
	return false
}
