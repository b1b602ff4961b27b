// Package errors provides the error kinds surfaced by the parameter generation pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Kind classifies a pipeline failure. Every stage fails fast with exactly one kind.
type Kind string

const (
	// KindConfig marks a malformed or inconsistent search-space declaration.
	KindConfig Kind = "ConfigError"
	// KindData marks a history table that does not line up with the search space.
	KindData Kind = "DataError"
	// KindOptimizer marks a rejection by the optimization engine.
	KindOptimizer Kind = "OptimizerError"
	// KindIO marks an output directory or file that could not be created or written.
	KindIO Kind = "IOError"
)

// Error represents an error with a kind, context and stack trace.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// Field names the offending config field or table column, if any.
	Field string
	// Row is the offending zero-based data row. Only meaningful when HasRow is set.
	Row    int
	HasRow bool
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Kind != "" {
		builder.WriteString(string(e.Kind))
	}

	if e.Message != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Message)
	}

	var attrs []string
	if e.Field != "" {
		attrs = append(attrs, "field="+strconv.Quote(e.Field))
	}
	if e.HasRow {
		attrs = append(attrs, "row="+strconv.Itoa(e.Row))
	}
	if e.Operation != "" {
		attrs = append(attrs, "operation="+e.Operation)
	}
	if e.Component != "" {
		attrs = append(attrs, "component="+e.Component)
	}
	if len(attrs) > 0 {
		builder.WriteString(" (")
		builder.WriteString(strings.Join(attrs, ", "))
		builder.WriteString(")")
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent adds a component to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithField names the offending field or column.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithRow names the offending data row.
func (e *Error) WithRow(row int) *Error {
	e.Row = row
	e.HasRow = true
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{
		Kind:    kind,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// Wrap wraps err as the given kind. If err already carries a kind, the
// original kind is kept and only the message is layered on top.
// Wrap returns nil when err is nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}

	var inner *Error
	if stderrors.As(err, &inner) && inner.Kind != "" {
		kind = inner.Kind
	}

	return &Error{
		Kind:    kind,
		Err:     err,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Wrapf wraps err with a formatted message. See Wrap.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}
