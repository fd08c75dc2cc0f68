// Package errors carries the service layer's errors: a message, the
// operation and component that failed, an HTTP status and the stack where
// the error was created.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Error is a service error. Status is the HTTP status it maps to; zero
// defers to the wrapped error.
type Error struct {
	Err       error
	Message   string
	Operation string
	Component string
	Status    int
	Stack     []string
}

// Error formats as "message: operation=op, component=c: cause", leaving
// out the parts that are empty.
func (e *Error) Error() string {
	var b strings.Builder
	sep := func(s string) {
		if b.Len() > 0 {
			b.WriteString(s)
		}
	}

	b.WriteString(e.Message)
	if e.Operation != "" {
		sep(": ")
		b.WriteString("operation=" + e.Operation)
	}
	if e.Component != "" {
		sep(", ")
		b.WriteString("component=" + e.Component)
	}
	if e.Err != nil {
		sep(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// WithOperation records the operation that failed
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent records the component that failed
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithStatus overrides the HTTP status of the error
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// StackTrace returns the frames captured when the innermost *Error was
// created.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates an error with a message and the caller's stack.
func New(msg string) *Error {
	return &Error{Message: msg, Stack: getStackTrace()}
}

// Errorf is New with a formatted message.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Stack: getStackTrace()}
}

// Wrap adds a layer of context to err. The stack of an inner *Error is
// kept rather than captured again.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Message: msg, Stack: stackOf(err)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Message: fmt.Sprintf(format, args...), Stack: stackOf(err)}
}

func withStatus(status int, format string, args []interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Status: status, Stack: getStackTrace()}
}

// BadRequest is a 400 error
func BadRequest(format string, args ...interface{}) *Error {
	return withStatus(http.StatusBadRequest, format, args)
}

// NotFound is a 404 error
func NotFound(format string, args ...interface{}) *Error {
	return withStatus(http.StatusNotFound, format, args)
}

// Conflict is a 409 error
func Conflict(format string, args ...interface{}) *Error {
	return withStatus(http.StatusConflict, format, args)
}

// StatusOf returns the outermost status set in err's chain, or 500
func StatusOf(err error) int {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			break
		}
		if e.Status != 0 {
			return e.Status
		}
		err = e.Err
	}
	return http.StatusInternalServerError
}

func stackOf(err error) []string {
	var e *Error
	if stderrors.As(err, &e) && e.Stack != nil {
		return e.Stack
	}
	return getStackTrace()
}

// getStackTrace captures the caller of the constructor and its callers,
// leaving out runtime frames and this file.
func getStackTrace() []string {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return nil
	}

	stack := make([]string, 0, n)
	frames := runtime.CallersFrames(pcs[:n])
	for more := true; more; {
		var frame runtime.Frame
		frame, more = frames.Next()
		if strings.Contains(frame.File, "runtime/") || strings.HasSuffix(frame.File, "internal/errors/errors.go") {
			continue
		}
		stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
	}
	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

