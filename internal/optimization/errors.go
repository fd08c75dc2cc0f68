package optimization

import (
	"errors"
	"fmt"

	"github.com/copyleftdev/cellfit/internal/cost"
	"github.com/copyleftdev/cellfit/internal/model"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

var (
	// ErrInfeasibleCandidate marks candidates outside the bounds or whose
	// simulation failed. It is handled inside the run and never ends it.
	ErrInfeasibleCandidate = cost.ErrInfeasible

	// ErrDimensionMismatch is returned when a vector does not match the
	// registered parameters.
	ErrDimensionMismatch = parameters.ErrDimensionMismatch

	// ErrInvalidBounds is returned when a lower bound exceeds its upper bound.
	ErrInvalidBounds = parameters.ErrInvalidBounds

	// ErrSolverDivergence is reported by model adapters that failed to converge.
	ErrSolverDivergence = model.ErrSolverDivergence

	// ErrOptimiserFailure is an internal numerical failure of a backend,
	// such as a covariance matrix that can no longer be decomposed.
	ErrOptimiserFailure = errors.New("optimiser failure")

	// ErrInvalidConfig is returned for run settings that cannot be honoured.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSearchComplete is returned by Ask when a backend has finished its
	// own search.
	ErrSearchComplete = errors.New("search complete")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	switch {
	case e.Component != "" && e.Op != "":
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	case e.Component != "":
		prefix = e.Component
	case e.Op != "":
		prefix = e.Op
	}

	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error with the given message.
func NewError(message string) *Error {
	return &Error{Message: message}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Err: err}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: fmt.Sprintf(format, args...), Err: err}
}

// IsOptimizationError reports whether err or any error it wraps is an *Error.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// RunError is returned by Run when the run ends in the Failed state. Result
// holds everything recorded up to the failing iteration.
type RunError struct {
	Iteration int
	Result    *Result
	Err       error
}

func (e *RunError) Error() string {
	best := "none"
	if e.Result != nil && e.Result.Best.Len() > 0 {
		best = fmt.Sprintf("%s (cost %g)", e.Result.Best, e.Result.BestCost)
	}
	return fmt.Sprintf("optimisation failed at iteration %d, last best %s: %v", e.Iteration, best, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
