package manifest

import (
	"context"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/cellfit/internal/dataset"
	"github.com/copyleftdev/cellfit/internal/model"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// SynthSpec describes a synthetic experiment: the model is run with the
// true parameter values over an evenly spaced time axis and Gaussian noise
// is added to every fitted signal.
type SynthSpec struct {
	Start  float64 `yaml:"start" json:"start"`
	Stop   float64 `yaml:"stop" json:"stop"`
	Points int     `yaml:"points" json:"points"`
	// Current is a constant applied current; zero is open circuit
	Current float64 `yaml:"current,omitempty" json:"current,omitempty"`
	// Truth defaults to each parameter's prior mean
	Truth map[string]float64 `yaml:"truth,omitempty" json:"truth,omitempty"`
	Noise float64            `yaml:"noise,omitempty" json:"noise,omitempty"`
}

// Truth returns the parameter values the synthetic data is generated from
func (m *Manifest) Truth() (parameters.Vector, error) {
	params, err := m.BuildParameters()
	if err != nil {
		return parameters.Vector{}, err
	}
	var truth map[string]float64
	if m.Synth != nil {
		truth = m.Synth.Truth
	}
	values := make([]float64, params.Len())
	for i := range values {
		p := params.At(i)
		if v, ok := truth[p.Name()]; ok {
			values[i] = v
			continue
		}
		if p.Prior() == nil {
			return parameters.Vector{}, fmt.Errorf("%w: no true value or prior mean for %q", ErrInvalidManifest, p.Name())
		}
		values[i] = p.Prior().Mean()
	}
	return params.Vector(values)
}

// Synthesise simulates the synth experiment and returns a dataset holding
// the time axis, the applied current and the noisy fitted signals.
// noise overrides synth.noise when non-negative.
func (m *Manifest) Synthesise(ctx context.Context, noise float64, rng *rand.Rand) (*dataset.Dataset, error) {
	s := m.Synth
	if s == nil {
		return nil, fmt.Errorf("%w: synth section is required", ErrInvalidManifest)
	}
	if s.Points < 2 || !(s.Stop > s.Start) {
		return nil, fmt.Errorf("%w: synth needs at least 2 points over an increasing interval", ErrInvalidManifest)
	}
	if noise < 0 {
		noise = s.Noise
	}
	if noise < 0 {
		return nil, fmt.Errorf("%w: negative synth noise %g", ErrInvalidManifest, noise)
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	mdl, err := m.BuildModel()
	if err != nil {
		return nil, err
	}
	truth, err := m.Truth()
	if err != nil {
		return nil, err
	}

	t := floats.Span(make([]float64, s.Points), s.Start, s.Stop)
	current := make([]float64, s.Points)
	for i := range current {
		current[i] = s.Current
	}
	ts, err := mdl.Simulate(ctx, truth, model.InitialState(m.InitialState), model.Protocol{Time: t, Current: current})
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", mdl.Name(), err)
	}

	signals := map[string][]float64{
		dataset.Time:    t,
		dataset.Current: current,
	}
	for _, name := range m.Signals {
		clean, ok := ts.Signal(name)
		if !ok {
			return nil, fmt.Errorf("model %s does not produce signal %q", mdl.Name(), name)
		}
		noisy := make([]float64, len(clean))
		for i, v := range clean {
			noisy[i] = v + noise*rng.NormFloat64()
		}
		signals[name] = noisy
	}
	return dataset.New(signals)
}
