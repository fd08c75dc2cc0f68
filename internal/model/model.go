// Package model defines the adapter between the fitting loop and a battery
// simulation engine, together with small reference models.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/copyleftdev/cellfit/internal/parameters"
)

// ErrSolverDivergence is wrapped by every error signalling that a simulation
// could not be completed for the given inputs.
var ErrSolverDivergence = errors.New("solver divergence")

// DivergenceError reports where a simulation stopped
type DivergenceError struct {
	Model  string
	Time   float64
	Reason string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%s: solver diverged at t=%g: %s", e.Model, e.Time, e.Reason)
}

// Unwrap returns ErrSolverDivergence
func (e *DivergenceError) Unwrap() error { return ErrSolverDivergence }

// InitialState holds named initial conditions, e.g. the initial state of charge
type InitialState map[string]float64

// StateOfCharge is the InitialState key for the initial state of charge
const StateOfCharge = "soc"

// Protocol describes the operating conditions of a simulation
type Protocol struct {
	// Time is the evaluation time axis
	Time []float64
	// Current is the applied current at each time point (positive on
	// discharge). Nil means open circuit.
	Current []float64
}

// TimeSeries is the simulated output aligned to Time
type TimeSeries struct {
	Time    []float64
	Signals map[string][]float64
}

// Signal returns the named output
func (ts *TimeSeries) Signal(name string) ([]float64, bool) {
	s, ok := ts.Signals[name]
	return s, ok
}

// Model is a black-box simulator
type Model interface {
	// Name identifies the model
	Name() string

	// Parameters lists the input names the model reads from the vector
	Parameters() []string

	// Outputs lists the signals the model can produce
	Outputs() []string

	// Simulate runs the model for the given inputs. Simulations that cannot
	// complete must return an error wrapping ErrSolverDivergence. The
	// context deadline bounds the run.
	Simulate(ctx context.Context, inputs parameters.Vector, state InitialState, protocol Protocol) (*TimeSeries, error)
}

// lookupInput fetches a named input, falling back to fixed defaults
func lookupInput(inputs parameters.Vector, defaults map[string]float64, name string) (float64, error) {
	if v, ok := inputs.Get(name); ok {
		return v, nil
	}
	if v, ok := defaults[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("missing model input %q", name)
}

func checkFinite(model string, t float64, values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &DivergenceError{Model: model, Time: t, Reason: "non-finite state"}
		}
	}
	return nil
}
