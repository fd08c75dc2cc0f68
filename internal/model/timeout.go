package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/copyleftdev/cellfit/internal/parameters"
)

type timeoutModel struct {
	Model
	timeout time.Duration
}

// WithTimeout bounds every simulation of m by d. Adapters that ignore their
// context keep running in the background after the deadline, but the caller
// gets a divergence error as soon as the deadline passes.
func WithTimeout(m Model, d time.Duration) Model {
	if d <= 0 {
		return m
	}
	return &timeoutModel{Model: m, timeout: d}
}

type simulation struct {
	ts  *TimeSeries
	err error
}

func (m *timeoutModel) Simulate(ctx context.Context, inputs parameters.Vector, state InitialState, protocol Protocol) (*TimeSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan simulation, 1)
	go func() {
		ts, err := m.Model.Simulate(ctx, inputs, state, protocol)
		done <- simulation{ts: ts, err: err}
	}()

	select {
	case res := <-done:
		return res.ts, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &DivergenceError{
				Model:  m.Name(),
				Reason: fmt.Sprintf("simulation exceeded %s", m.timeout),
			}
		}
		return nil, ctx.Err()
	}
}

// Constructor builds a model from fixed constants
type Constructor func(constants map[string]float64) Model

var registry = map[string]Constructor{
	"exponential-decay": func(c map[string]float64) Model { return NewExponentialDecay(c) },
	"thevenin":          func(c map[string]float64) Model { return NewThevenin(c, nil) },
}

// New builds one of the reference models by name
func New(name string, constants map[string]float64) (Model, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q (available: %v)", name, Available())
	}
	return ctor(constants), nil
}

// Available lists the reference model names
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
