// Package cost scores candidate parameter vectors by comparing simulated
// signals with the observed dataset.
package cost

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/cellfit/internal/model"
	"github.com/copyleftdev/cellfit/internal/parameters"
	"github.com/copyleftdev/cellfit/internal/problem"
)

// ErrInfeasible is the cause recorded on evaluations that could not produce
// a meaningful cost.
var ErrInfeasible = errors.New("infeasible candidate")

// Evaluation is the score of one candidate
type Evaluation struct {
	Cost     float64
	Gradient []float64
	Feasible bool
	// Cause explains an infeasible evaluation.
	Cause error
}

// Infeasible returns an evaluation with +Inf cost
func Infeasible(cause error) Evaluation {
	return Evaluation{Cost: math.Inf(1), Cause: cause}
}

// Function is a scalar objective over the parameter vector.
// Implementations are stateless per call and safe for concurrent use.
type Function interface {
	Parameters() *parameters.Set
	Evaluate(ctx context.Context, x []float64) (Evaluation, error)
}

// GradientFunction also provides the gradient of the cost
type GradientFunction interface {
	Function
	EvaluateWithGradient(ctx context.Context, x []float64) (Evaluation, error)
}

// residuals simulates x and returns prediction minus observation for each
// fitted signal in problem order. Divergence and non-finite predictions are
// reported through the returned evaluation, other failures as errors.
func residuals(ctx context.Context, p *problem.FittingProblem, x []float64) ([][]float64, *Evaluation, error) {
	predicted, err := p.Simulate(ctx, x)
	if err != nil {
		if errors.Is(err, model.ErrSolverDivergence) || errors.Is(err, context.DeadlineExceeded) {
			ev := Infeasible(err)
			return nil, &ev, nil
		}
		return nil, nil, err
	}

	signals := p.Signals()
	out := make([][]float64, len(signals))
	for i, s := range signals {
		values := predicted[s]
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				ev := Infeasible(fmt.Errorf("%w: non-finite %q prediction", ErrInfeasible, s))
				return nil, &ev, nil
			}
		}
		r := make([]float64, len(values))
		floats.SubTo(r, values, p.Target(s))
		out[i] = r
	}
	return out, nil, nil
}

type sumSquaredError struct {
	problem *problem.FittingProblem
}

// NewSumSquaredError sums squared residuals over every fitted signal
func NewSumSquaredError(p *problem.FittingProblem) Function {
	return &sumSquaredError{problem: p}
}

func (c *sumSquaredError) Parameters() *parameters.Set { return c.problem.Parameters() }

func (c *sumSquaredError) Evaluate(ctx context.Context, x []float64) (Evaluation, error) {
	res, infeasible, err := residuals(ctx, c.problem, x)
	if err != nil || infeasible != nil {
		return deref(infeasible), err
	}
	total := 0.0
	for _, r := range res {
		total += floats.Dot(r, r)
	}
	return Evaluation{Cost: total, Feasible: true}, nil
}

type rootMeanSquaredError struct {
	problem *problem.FittingProblem
}

// NewRootMeanSquaredError sums the per-signal root mean squared residuals
func NewRootMeanSquaredError(p *problem.FittingProblem) Function {
	return &rootMeanSquaredError{problem: p}
}

func (c *rootMeanSquaredError) Parameters() *parameters.Set { return c.problem.Parameters() }

func (c *rootMeanSquaredError) Evaluate(ctx context.Context, x []float64) (Evaluation, error) {
	res, infeasible, err := residuals(ctx, c.problem, x)
	if err != nil || infeasible != nil {
		return deref(infeasible), err
	}
	total := 0.0
	for _, r := range res {
		total += math.Sqrt(floats.Dot(r, r) / float64(len(r)))
	}
	return Evaluation{Cost: total, Feasible: true}, nil
}

func deref(ev *Evaluation) Evaluation {
	if ev == nil {
		return Evaluation{}
	}
	return *ev
}

// Kind names a cost function family
type Kind string

const (
	SumSquaredError                 Kind = "sse"
	RootMeanSquaredError            Kind = "rmse"
	GaussianLogLikelihoodKnownSigma Kind = "gaussian-known-sigma"
	GaussianLogLikelihood           Kind = "gaussian"
	MaximumAPosteriori              Kind = "map"
)

// Kinds lists the supported cost function families
func Kinds() []Kind {
	kinds := []Kind{SumSquaredError, RootMeanSquaredError, GaussianLogLikelihoodKnownSigma, GaussianLogLikelihood, MaximumAPosteriori}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// New builds a cost of the given kind. Sigma is the known noise level for
// gaussian-known-sigma, the starting noise estimate for gaussian, and selects
// between the two likelihoods for map: known sigma when set, estimated
// otherwise.
func New(kind Kind, p *problem.FittingProblem, sigma []float64) (Function, error) {
	switch kind {
	case SumSquaredError:
		return NewSumSquaredError(p), nil
	case RootMeanSquaredError:
		return NewRootMeanSquaredError(p), nil
	case GaussianLogLikelihoodKnownSigma:
		return NewGaussianLogLikelihoodKnownSigma(p, sigma)
	case GaussianLogLikelihood:
		return NewGaussianLogLikelihood(p, firstOr(sigma, DefaultSigma0))
	case MaximumAPosteriori:
		var (
			likelihood Likelihood
			err        error
		)
		if len(sigma) > 0 {
			likelihood, err = NewGaussianLogLikelihoodKnownSigma(p, sigma)
		} else {
			likelihood, err = NewGaussianLogLikelihood(p, DefaultSigma0)
		}
		if err != nil {
			return nil, err
		}
		return NewMAP(likelihood), nil
	default:
		return nil, fmt.Errorf("unknown cost kind %q (available: %v)", kind, Kinds())
	}
}

func firstOr(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	return values[0]
}
