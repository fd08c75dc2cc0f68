package cost

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/cellfit/internal/parameters"
	"github.com/copyleftdev/cellfit/internal/problem"
)

// DefaultSigma0 is the starting noise estimate for likelihoods that fit sigma
const DefaultSigma0 = 0.002

// Likelihood is a negative log-likelihood cost
type Likelihood interface {
	Function
	likelihood()
}

func gaussianNLL(r []float64, sigma float64) float64 {
	n := float64(len(r))
	return 0.5*n*math.Log(2*math.Pi*sigma*sigma) + floats.Dot(r, r)/(2*sigma*sigma)
}

type knownSigma struct {
	problem *problem.FittingProblem
	sigma   []float64
}

// NewGaussianLogLikelihoodKnownSigma returns the negative log-likelihood of
// the data under independent Gaussian noise. A single sigma applies to every
// signal, otherwise one sigma per signal is required.
func NewGaussianLogLikelihoodKnownSigma(p *problem.FittingProblem, sigma []float64) (Likelihood, error) {
	n := len(p.Signals())
	switch len(sigma) {
	case 1:
		s := sigma[0]
		sigma = make([]float64, n)
		for i := range sigma {
			sigma[i] = s
		}
	case n:
		sigma = append([]float64(nil), sigma...)
	default:
		return nil, fmt.Errorf("%w: %d sigma values for %d signals", parameters.ErrDimensionMismatch, len(sigma), n)
	}
	for _, s := range sigma {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("sigma must be positive and finite, got %g", s)
		}
	}
	return &knownSigma{problem: p, sigma: sigma}, nil
}

func (c *knownSigma) likelihood() {}

func (c *knownSigma) Parameters() *parameters.Set { return c.problem.Parameters() }

func (c *knownSigma) Evaluate(ctx context.Context, x []float64) (Evaluation, error) {
	res, infeasible, err := residuals(ctx, c.problem, x)
	if err != nil || infeasible != nil {
		return deref(infeasible), err
	}
	total := 0.0
	for i, r := range res {
		total += gaussianNLL(r, c.sigma[i])
	}
	return Evaluation{Cost: total, Feasible: true}, nil
}

type unknownSigma struct {
	problem *problem.FittingProblem
	params  *parameters.Set
}

// SigmaName is the name of the fitted noise parameter for a signal
func SigmaName(signal string) string {
	return fmt.Sprintf("Sigma [%s]", signal)
}

// NewGaussianLogLikelihood estimates the noise level alongside the model
// parameters: one sigma parameter per signal is appended to the vector,
// starting at sigma0 with a uniform prior on [sigma0/2, 3*sigma0/2].
func NewGaussianLogLikelihood(p *problem.FittingProblem, sigma0 float64) (Likelihood, error) {
	if !(sigma0 > 0) || math.IsInf(sigma0, 0) {
		return nil, fmt.Errorf("sigma0 must be positive and finite, got %g", sigma0)
	}
	prior, err := parameters.NewUniform(0.5*sigma0, 1.5*sigma0)
	if err != nil {
		return nil, err
	}

	extra := make([]*parameters.Parameter, 0, len(p.Signals()))
	for _, s := range p.Signals() {
		param, err := parameters.New(SigmaName(s), prior, parameters.WithInitialValue(sigma0))
		if err != nil {
			return nil, err
		}
		extra = append(extra, param)
	}
	set, err := p.Parameters().Extend(extra...)
	if err != nil {
		return nil, err
	}
	return &unknownSigma{problem: p, params: set}, nil
}

func (c *unknownSigma) likelihood() {}

func (c *unknownSigma) Parameters() *parameters.Set { return c.params }

func (c *unknownSigma) Evaluate(ctx context.Context, x []float64) (Evaluation, error) {
	if err := c.params.Check(x); err != nil {
		return Evaluation{}, err
	}
	n := c.problem.Parameters().Len()
	sigma := x[n:]
	for i, s := range sigma {
		if !(s > 0) {
			return Infeasible(fmt.Errorf("%w: %s = %g", ErrInfeasible, c.params.At(n+i).Name(), s)), nil
		}
	}

	res, infeasible, err := residuals(ctx, c.problem, x[:n])
	if err != nil || infeasible != nil {
		return deref(infeasible), err
	}
	total := 0.0
	for i, r := range res {
		total += gaussianNLL(r, sigma[i])
	}
	return Evaluation{Cost: total, Feasible: true}, nil
}

type posterior struct {
	likelihood Likelihood
}

// NewMAP returns the negative log-posterior: the likelihood cost minus the
// joint log-prior of the vector.
func NewMAP(l Likelihood) Function {
	return &posterior{likelihood: l}
}

func (c *posterior) Parameters() *parameters.Set { return c.likelihood.Parameters() }

func (c *posterior) Evaluate(ctx context.Context, x []float64) (Evaluation, error) {
	logPrior, err := c.Parameters().LogPrior(x)
	if err != nil {
		return Evaluation{}, err
	}
	if math.IsInf(logPrior, -1) || math.IsNaN(logPrior) {
		return Infeasible(fmt.Errorf("%w: zero prior density", ErrInfeasible)), nil
	}

	ev, err := c.likelihood.Evaluate(ctx, x)
	if err != nil || !ev.Feasible {
		return ev, err
	}
	ev.Cost -= logPrior
	return ev, nil
}
