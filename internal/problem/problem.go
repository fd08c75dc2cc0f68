// Package problem binds a model, its fittable parameters and a dataset into
// a fitting problem that cost functions evaluate.
package problem

import (
	"context"
	"errors"
	"fmt"

	"github.com/copyleftdev/cellfit/internal/dataset"
	"github.com/copyleftdev/cellfit/internal/model"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// FittingProblem compares model outputs against dataset signals of the same name
type FittingProblem struct {
	model    model.Model
	params   *parameters.Set
	data     *dataset.Dataset
	signals  []string
	state    model.InitialState
	protocol model.Protocol
	targets  map[string][]float64
}

// Option configures a FittingProblem
type Option func(*FittingProblem)

// WithInitialState sets the initial conditions passed to every simulation
func WithInitialState(state model.InitialState) Option {
	return func(p *FittingProblem) {
		p.state = make(model.InitialState, len(state))
		for k, v := range state {
			p.state[k] = v
		}
	}
}

// New creates a fitting problem. Every fitted signal must be produced by the
// model and present in the dataset; the dataset current, if any, drives the
// simulation.
func New(m model.Model, params *parameters.Set, data *dataset.Dataset, signals []string, opts ...Option) (*FittingProblem, error) {
	if m == nil || params == nil || data == nil {
		return nil, errors.New("model, parameters and dataset are required")
	}
	if len(signals) == 0 {
		return nil, errors.New("at least one signal must be fitted")
	}

	outputs := make(map[string]bool, len(m.Outputs()))
	for _, o := range m.Outputs() {
		outputs[o] = true
	}
	targets := make(map[string][]float64, len(signals))
	for _, s := range signals {
		if !outputs[s] {
			return nil, fmt.Errorf("model %s does not produce signal %q", m.Name(), s)
		}
		target, err := data.Signal(s)
		if err != nil {
			return nil, err
		}
		targets[s] = target
	}

	protocol := model.Protocol{Time: data.Time()}
	if data.Has(dataset.Current) {
		protocol.Current, _ = data.Signal(dataset.Current)
	}

	p := &FittingProblem{
		model:    m,
		params:   params,
		data:     data,
		signals:  append([]string(nil), signals...),
		protocol: protocol,
		targets:  targets,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Parameters returns the fitted parameter set
func (p *FittingProblem) Parameters() *parameters.Set { return p.params }

// Signals returns the fitted signal names
func (p *FittingProblem) Signals() []string { return append([]string(nil), p.signals...) }

// Model returns the underlying model
func (p *FittingProblem) Model() model.Model { return p.model }

// Len returns the number of samples per signal
func (p *FittingProblem) Len() int { return p.data.Len() }

// Target returns the observed values of a fitted signal. The returned slice
// must not be modified.
func (p *FittingProblem) Target(signal string) []float64 { return p.targets[signal] }

// Simulate runs the model at x and returns the fitted signals. A simulation
// that ends before the last data point is reported as solver divergence.
func (p *FittingProblem) Simulate(ctx context.Context, x []float64) (map[string][]float64, error) {
	inputs, err := p.params.Vector(x)
	if err != nil {
		return nil, err
	}
	return p.SimulateVector(ctx, inputs)
}

// SimulateVector runs the model for an already bound vector
func (p *FittingProblem) SimulateVector(ctx context.Context, inputs parameters.Vector) (map[string][]float64, error) {
	ts, err := p.model.Simulate(ctx, inputs, p.state, p.protocol)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]float64, len(p.signals))
	for _, s := range p.signals {
		values, ok := ts.Signal(s)
		if !ok {
			return nil, fmt.Errorf("model %s returned no %q signal", p.model.Name(), s)
		}
		if len(values) != p.data.Len() {
			return nil, &model.DivergenceError{
				Model:  p.model.Name(),
				Time:   p.protocol.Time[min(len(values), len(p.protocol.Time)-1)],
				Reason: fmt.Sprintf("simulation returned %d of %d samples", len(values), p.data.Len()),
			}
		}
		out[s] = values
	}
	return out, nil
}
