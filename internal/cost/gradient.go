package cost

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
)

type finiteDifferences struct {
	Function
	step float64
}

// FiniteDifferenceOption configures WithFiniteDifferences
type FiniteDifferenceOption func(*finiteDifferences)

// WithStep sets the absolute finite-difference step. Zero keeps the default
// step of the central formula.
func WithStep(step float64) FiniteDifferenceOption {
	return func(f *finiteDifferences) { f.step = step }
}

// WithFiniteDifferences upgrades f to a GradientFunction using central
// differences. Functions that already provide gradients are returned as is.
func WithFiniteDifferences(f Function, opts ...FiniteDifferenceOption) GradientFunction {
	if g, ok := f.(GradientFunction); ok {
		return g
	}
	fdf := &finiteDifferences{Function: f}
	for _, opt := range opts {
		opt(fdf)
	}
	return fdf
}

// EvaluateWithGradient evaluates the cost at x and its gradient from 2n
// further evaluations. If any stencil point is infeasible the whole
// evaluation is reported infeasible.
func (f *finiteDifferences) EvaluateWithGradient(ctx context.Context, x []float64) (Evaluation, error) {
	ev, err := f.Evaluate(ctx, x)
	if err != nil || !ev.Feasible {
		return ev, err
	}

	var (
		evalErr    error
		infeasible bool
		cause      error
	)
	objective := func(y []float64) float64 {
		if evalErr != nil || infeasible {
			return math.NaN()
		}
		e, err := f.Evaluate(ctx, y)
		if err != nil {
			evalErr = err
			return math.NaN()
		}
		if !e.Feasible {
			infeasible, cause = true, e.Cause
			return math.NaN()
		}
		return e.Cost
	}

	grad := fd.Gradient(nil, objective, x, &fd.Settings{
		Formula: fd.Central,
		Step:    f.step,
	})
	if evalErr != nil {
		return Evaluation{}, evalErr
	}
	if infeasible {
		return Infeasible(fmt.Errorf("%w: gradient stencil: %v", ErrInfeasible, cause)), nil
	}
	ev.Gradient = grad
	return ev, nil
}
