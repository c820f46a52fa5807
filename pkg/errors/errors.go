// Package errors provides structured error handling for the soilflow pipeline.
// It implements coded errors with context and stack traces so a failing stage
// can be identified programmatically and surfaced as one readable message.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Schema errors (1xx)
	CodeMissingColumns Code = "E101"
	CodeBadColumn      Code = "E102"

	// Parse errors (2xx)
	CodeSampleCount   Code = "E201"
	CodeCensoredValue Code = "E202"

	// Invariant errors (3xx)
	CodeAlignment Code = "E301"

	// I/O errors (4xx)
	CodeInput  Code = "E401"
	CodeOutput Code = "E402"

	// Wrapper-surface errors (5xx)
	CodeQuery  Code = "E501"
	CodeServer Code = "E502"

	// Unknown
	CodeUnknown Code = "E999"
)

// PipelineError is the base error type for all soilflow errors.
type PipelineError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are emitted in sorted
// order so the same failure always renders the same message.
func (e *PipelineError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error by code.
func (e *PipelineError) Is(target error) bool {
	if t, ok := target.(*PipelineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new PipelineError.
func New(code Code, message string) *PipelineError {
	return &PipelineError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *PipelineError {
	if err == nil {
		return nil
	}

	return &PipelineError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *PipelineError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *PipelineError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// MissingColumns reports absent required columns. The missing names are part
// of the message itself so they survive any downstream formatting.
func MissingColumns(missing, available []string) *PipelineError {
	return New(CodeMissingColumns,
		fmt.Sprintf("required columns not found: %s", strings.Join(missing, ", "))).
		WithContext("missing", missing).
		WithContext("available", available)
}

// BadColumn reports a column that exists in name only: absent where required
// non-critically, or carrying values of the wrong kind.
func BadColumn(column, reason string) *PipelineError {
	return New(CodeBadColumn, "column unusable").
		WithContext("column", column).
		WithContext("reason", reason)
}

// SampleCountError reports an identifier whose suffix does not parse to a
// sample count.
func SampleCountError(row int, value string) *PipelineError {
	return New(CodeSampleCount, "identifier has no two-digit sample suffix").
		WithContext("row", row).
		WithContext("value", value)
}

// CensoredValueError reports a below-detection-limit marker whose payload is
// not numeric.
func CensoredValueError(column string, row int, value string) *PipelineError {
	return New(CodeCensoredValue, "censored value is not numeric").
		WithContext("column", column).
		WithContext("row", row).
		WithContext("value", value)
}

// AlignmentMismatch reports a row-count mismatch between the carried column
// block and the imputed numeric block.
func AlignmentMismatch(carried, imputed int) *PipelineError {
	return New(CodeAlignment, "carried and imputed row counts differ").
		WithContext("carried", carried).
		WithContext("imputed", imputed)
}

// InputError wraps a failure to acquire the input dataset.
func InputError(path string, err error) *PipelineError {
	return Wrap(err, CodeInput, "failed to read input").
		WithContext("path", path)
}

// OutputError wraps a failure to emit the output artifact.
func OutputError(path string, err error) *PipelineError {
	return Wrap(err, CodeOutput, "failed to write output").
		WithContext("path", path)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return CodeUnknown
}

// IsSchema reports whether the error belongs to the schema class.
func IsSchema(err error) bool {
	switch GetCode(err) {
	case CodeMissingColumns, CodeBadColumn:
		return true
	}
	return false
}

// IsParse reports whether the error belongs to the parse class.
func IsParse(err error) bool {
	switch GetCode(err) {
	case CodeSampleCount, CodeCensoredValue:
		return true
	}
	return false
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add appends an error if it is non-nil.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// ErrorOrNil returns nil if no errors were collected.
func (m *MultiError) ErrorOrNil() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}
