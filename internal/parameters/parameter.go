// Package parameters holds the fittable parameters of a model, their priors,
// bounds and the immutable vectors handed to model adapters.
package parameters

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrDimensionMismatch is returned when a value vector does not match the
	// registered parameters.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidBounds is returned when a lower bound exceeds its upper bound.
	ErrInvalidBounds = errors.New("invalid bounds")
)

// Interval is a closed hard bound on a single parameter
type Interval struct {
	Lower float64
	Upper float64
}

// Contains reports whether x lies inside the interval
func (iv Interval) Contains(x float64) bool {
	return x >= iv.Lower && x <= iv.Upper
}

// Parameter is a named, fittable model input
type Parameter struct {
	name     string
	prior    Prior
	interval *Interval
	initial  *float64
}

// Option configures a Parameter
type Option func(*Parameter)

// WithBounds sets hard bounds on the parameter
func WithBounds(lower, upper float64) Option {
	return func(p *Parameter) {
		p.interval = &Interval{Lower: lower, Upper: upper}
	}
}

// WithInitialValue fixes the starting value instead of sampling the prior
func WithInitialValue(v float64) Option {
	return func(p *Parameter) {
		p.initial = &v
	}
}

// New creates a parameter. The prior may be nil when bounds are given.
func New(name string, prior Prior, opts ...Option) (*Parameter, error) {
	if name == "" {
		return nil, errors.New("parameter name must not be empty")
	}

	p := &Parameter{name: name, prior: prior}
	for _, opt := range opts {
		opt(p)
	}

	if p.interval != nil {
		iv := *p.interval
		if math.IsNaN(iv.Lower) || math.IsNaN(iv.Upper) || iv.Lower > iv.Upper {
			return nil, fmt.Errorf("%w: parameter %q has bounds [%v, %v]", ErrInvalidBounds, name, iv.Lower, iv.Upper)
		}
		// A point interval leaves nothing to search; such a value belongs in
		// the model constants.
		if iv.Lower == iv.Upper {
			return nil, fmt.Errorf("%w: parameter %q has empty bounds [%v, %v]", ErrInvalidBounds, name, iv.Lower, iv.Upper)
		}
	}
	if p.initial != nil && p.interval != nil && !p.interval.Contains(*p.initial) {
		return nil, fmt.Errorf("parameter %q: initial value %v outside bounds [%v, %v]",
			name, *p.initial, p.interval.Lower, p.interval.Upper)
	}
	if p.prior == nil && p.initial == nil && !p.hasFiniteBounds() {
		return nil, fmt.Errorf("parameter %q needs a prior, an initial value or finite bounds", name)
	}

	return p, nil
}

// Name returns the parameter name
func (p *Parameter) Name() string { return p.name }

// Prior returns the prior, which may be nil
func (p *Parameter) Prior() Prior { return p.prior }

// Bounds returns the hard bounds, if any
func (p *Parameter) Bounds() (Interval, bool) {
	if p.interval == nil {
		return Interval{Lower: math.Inf(-1), Upper: math.Inf(1)}, false
	}
	return *p.interval, true
}

// InitialValue returns the configured starting value, if any
func (p *Parameter) InitialValue() (float64, bool) {
	if p.initial == nil {
		return 0, false
	}
	return *p.initial, true
}

func (p *Parameter) hasFiniteBounds() bool {
	return p.interval != nil && !math.IsInf(p.interval.Lower, 0) && !math.IsInf(p.interval.Upper, 0)
}

// sigma0 is the default search scale for this parameter
func (p *Parameter) sigma0() float64 {
	if p.prior != nil {
		if s := p.prior.Scale(); s > 0 && !math.IsInf(s, 0) {
			return s
		}
	}
	if p.hasFiniteBounds() {
		return (p.interval.Upper - p.interval.Lower) / 6
	}
	if v, ok := p.InitialValue(); ok && v != 0 {
		return 0.05 * math.Abs(v)
	}
	return 0.05
}

// initialGuess draws a starting value: the initial value if set, otherwise a
// prior sample inside the bounds, otherwise the bound midpoint.
func (p *Parameter) initialGuess(rng *rand.Rand) float64 {
	if v, ok := p.InitialValue(); ok {
		return v
	}
	if p.prior == nil {
		return 0.5 * (p.interval.Lower + p.interval.Upper)
	}

	const maxDraws = 100
	for i := 0; i < maxDraws; i++ {
		v := p.prior.Sample(rng)
		if p.interval == nil || p.interval.Contains(v) {
			return v
		}
	}
	return math.Max(p.interval.Lower, math.Min(p.prior.Mean(), p.interval.Upper))
}
