// Package errors defines the error types shared across the storewatch
// pipelines: compile diagnostics that never crash the long-running
// process, and categorized proxy/TLS failures that do.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorSeverity represents the severity of a compile diagnostic
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// CompileError represents a diagnostic reported by one of the asset
// compilers. Compile errors are logged and retried on the next change;
// they never propagate up to terminate the process.
type CompileError struct {
	Pipeline  string
	File      string
	Line      int
	Column    int
	Message   string
	Severity  ErrorSeverity
	Timestamp time.Time
}

// Error implements the error interface
func (ce *CompileError) Error() string {
	if ce.File == "" {
		return fmt.Sprintf("%s: %s", ce.Severity, ce.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", ce.File, ce.Line, ce.Column, ce.Severity, ce.Message)
}

// NewCompileError creates a compile error for the given pipeline.
func NewCompileError(pipeline, file string, line, column int, message string) *CompileError {
	return &CompileError{
		Pipeline:  pipeline,
		File:      file,
		Line:      line,
		Column:    column,
		Message:   message,
		Severity:  ErrorSeverityError,
		Timestamp: time.Now(),
	}
}

// SingleLine collapses a multi-line compiler message into one line and
// truncates it so status output stays readable.
func SingleLine(msg string, max int) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if max > 0 && len(msg) > max {
		return msg[:max-3] + "..."
	}
	return msg
}
