package parameters

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Prior represents the belief about a parameter value before fitting.
// Priors seed initial guesses, default step sizes and MAP cost terms.
type Prior interface {
	// Sample draws one value from the distribution
	Sample(rng *rand.Rand) float64

	// LogPDF returns the log probability density at x
	LogPDF(x float64) float64

	// Mean returns the distribution mean
	Mean() float64

	// Scale returns the standard deviation of the distribution
	Scale() float64
}

// Gaussian is a normal prior
type Gaussian struct {
	dist distuv.Normal
}

// NewGaussian creates a Gaussian prior with the given mean and standard deviation
func NewGaussian(mean, sigma float64) (*Gaussian, error) {
	if !(sigma > 0) || math.IsInf(sigma, 0) {
		return nil, fmt.Errorf("gaussian prior: sigma must be positive and finite, got %v", sigma)
	}
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return nil, fmt.Errorf("gaussian prior: mean must be finite, got %v", mean)
	}
	return &Gaussian{dist: distuv.Normal{Mu: mean, Sigma: sigma}}, nil
}

// Sample draws one value from the prior
func (g *Gaussian) Sample(rng *rand.Rand) float64 {
	return g.dist.Mu + g.dist.Sigma*rng.NormFloat64()
}

// LogPDF returns the log density at x
func (g *Gaussian) LogPDF(x float64) float64 {
	return g.dist.LogProb(x)
}

// Mean returns the prior mean
func (g *Gaussian) Mean() float64 { return g.dist.Mean() }

// Scale returns the prior standard deviation
func (g *Gaussian) Scale() float64 { return g.dist.StdDev() }

func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian(%g, %g)", g.dist.Mu, g.dist.Sigma)
}

// Uniform is a flat prior on [lower, upper]
type Uniform struct {
	dist distuv.Uniform
}

// NewUniform creates a Uniform prior on [lower, upper]
func NewUniform(lower, upper float64) (*Uniform, error) {
	if math.IsNaN(lower) || math.IsNaN(upper) || math.IsInf(lower, 0) || math.IsInf(upper, 0) {
		return nil, fmt.Errorf("uniform prior: bounds must be finite, got [%v, %v]", lower, upper)
	}
	if !(lower < upper) {
		return nil, fmt.Errorf("uniform prior: lower bound %v must be below upper bound %v", lower, upper)
	}
	return &Uniform{dist: distuv.Uniform{Min: lower, Max: upper}}, nil
}

// Sample draws one value from the prior
func (u *Uniform) Sample(rng *rand.Rand) float64 {
	return u.dist.Min + rng.Float64()*(u.dist.Max-u.dist.Min)
}

// LogPDF returns the log density at x, -Inf outside the support
func (u *Uniform) LogPDF(x float64) float64 {
	if x < u.dist.Min || x > u.dist.Max {
		return math.Inf(-1)
	}
	return u.dist.LogProb(x)
}

// Mean returns the midpoint of the support
func (u *Uniform) Mean() float64 { return u.dist.Mean() }

// Scale returns the standard deviation of the distribution
func (u *Uniform) Scale() float64 { return u.dist.StdDev() }

// Support returns the interval the prior is defined on
func (u *Uniform) Support() (float64, float64) { return u.dist.Min, u.dist.Max }

func (u *Uniform) String() string {
	return fmt.Sprintf("Uniform(%g, %g)", u.dist.Min, u.dist.Max)
}

// Exponential is an exponential prior parameterised by its scale (1/rate)
type Exponential struct {
	dist distuv.Exponential
}

// NewExponential creates an Exponential prior with the given scale
func NewExponential(scale float64) (*Exponential, error) {
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("exponential prior: scale must be positive and finite, got %v", scale)
	}
	return &Exponential{dist: distuv.Exponential{Rate: 1 / scale}}, nil
}

// Sample draws one value from the prior
func (e *Exponential) Sample(rng *rand.Rand) float64 {
	return rng.ExpFloat64() / e.dist.Rate
}

// LogPDF returns the log density at x, -Inf for negative x
func (e *Exponential) LogPDF(x float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	return e.dist.LogProb(x)
}

// Mean returns the prior mean
func (e *Exponential) Mean() float64 { return e.dist.Mean() }

// Scale returns the prior standard deviation
func (e *Exponential) Scale() float64 { return e.dist.StdDev() }

func (e *Exponential) String() string {
	return fmt.Sprintf("Exponential(%g)", 1/e.dist.Rate)
}
