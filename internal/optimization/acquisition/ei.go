// Package acquisition scores candidate points from a surrogate's predictive
// mean and standard deviation. Higher scores are more promising; the
// objective is always minimised.
package acquisition

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Function is an acquisition function over a Gaussian predictive
// distribution
type Function interface {
	// Compute scores a point with predictive mean mu and standard deviation sigma
	Compute(mu, sigma float64) float64

	// UpdateBest records the best cost observed so far
	UpdateBest(best float64)
}

// ExpectedImprovement implements the Expected Improvement acquisition function
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
}

// NewExpectedImprovement creates a new ExpectedImprovement acquisition function
func NewExpectedImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
	}
}

// Compute returns the expected improvement below the best observed value,
// which is never negative
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := ei.bestObserved - mu - ei.xi
	if sigma <= 1e-10 {
		return math.Max(0, improvement)
	}
	z := improvement / sigma
	value := improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
	return math.Max(0, value)
}

// Gradient computes the derivative of the Expected Improvement along a
// direction in which mu changes by dmu and sigma by dsigma
func (ei *ExpectedImprovement) Gradient(mu, dmu float64, sigma, dsigma float64) float64 {
	improvement := ei.bestObserved - mu - ei.xi
	if sigma <= 1e-10 {
		if improvement <= 0 {
			return 0
		}
		return -dmu
	}
	z := improvement / sigma
	return -distuv.UnitNormal.CDF(z)*dmu + distuv.UnitNormal.Prob(z)*dsigma
}

// UpdateBest updates the best observed value
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// SetXi sets the exploration-exploitation trade-off parameter
func (ei *ExpectedImprovement) SetXi(xi float64) {
	ei.xi = xi
}

// BestObserved returns the best observed value
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}

// LowerConfidenceBound scores a point by -(mu - kappa sigma)
type LowerConfidenceBound struct {
	Kappa float64
}

// Compute implements Function
func (l *LowerConfidenceBound) Compute(mu, sigma float64) float64 {
	return -(mu - l.Kappa*sigma)
}

// UpdateBest implements Function. The bound ignores the incumbent.
func (l *LowerConfidenceBound) UpdateBest(float64) {}

// New builds an acquisition function by name: "ei" or "lcb"
func New(name string) (Function, error) {
	switch name {
	case "", "ei":
		return NewExpectedImprovement(math.Inf(1), 0.01), nil
	case "lcb":
		return &LowerConfidenceBound{Kappa: 2}, nil
	default:
		return nil, fmt.Errorf("unknown acquisition function %q", name)
	}
}
