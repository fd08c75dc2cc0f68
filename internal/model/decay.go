package model

import (
	"context"
	"fmt"
	"math"

	"github.com/copyleftdev/cellfit/internal/parameters"
)

// ExponentialDecay solves dy/dt = -k y with y(0) = y0. It has a closed form
// and serves as a cheap, deterministic model for tests and examples.
type ExponentialDecay struct {
	defaults map[string]float64
}

// NewExponentialDecay creates the model. Constants override the default
// values k=0.1 and y0=1 for inputs that are not being fitted.
func NewExponentialDecay(constants map[string]float64) *ExponentialDecay {
	defaults := map[string]float64{"k": 0.1, "y0": 1}
	for k, v := range constants {
		defaults[k] = v
	}
	return &ExponentialDecay{defaults: defaults}
}

// Name implements Model
func (m *ExponentialDecay) Name() string { return "exponential-decay" }

// Parameters implements Model
func (m *ExponentialDecay) Parameters() []string { return []string{"k", "y0"} }

// Outputs implements Model
func (m *ExponentialDecay) Outputs() []string { return []string{"y", "2y"} }

// Simulate implements Model
func (m *ExponentialDecay) Simulate(ctx context.Context, inputs parameters.Vector, _ InitialState, protocol Protocol) (*TimeSeries, error) {
	k, err := lookupInput(inputs, m.defaults, "k")
	if err != nil {
		return nil, err
	}
	y0, err := lookupInput(inputs, m.defaults, "y0")
	if err != nil {
		return nil, err
	}
	if len(protocol.Time) == 0 {
		return nil, fmt.Errorf("%s: empty time axis", m.Name())
	}

	n := len(protocol.Time)
	y := make([]float64, n)
	y2 := make([]float64, n)
	t0 := protocol.Time[0]
	for i, t := range protocol.Time {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, &DivergenceError{Model: m.Name(), Time: t, Reason: err.Error()}
			}
		}
		y[i] = y0 * math.Exp(-k*(t-t0))
		y2[i] = 2 * y[i]
		if err := checkFinite(m.Name(), t, y[i]); err != nil {
			return nil, err
		}
	}

	return &TimeSeries{
		Time:    append([]float64(nil), protocol.Time...),
		Signals: map[string][]float64{"y": y, "2y": y2},
	}, nil
}
