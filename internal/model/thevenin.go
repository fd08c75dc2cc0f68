package model

import (
	"context"
	"fmt"
	"math"

	"github.com/copyleftdev/cellfit/internal/parameters"
)

// Thevenin model inputs and outputs
const (
	R0       = "R0 [Ohm]"
	R1       = "R1 [Ohm]"
	C1       = "C1 [F]"
	Capacity = "Cell capacity [A.h]"

	Voltage      = "Voltage [V]"
	Current      = "Current [A]"
	SOC          = "State of charge"
	OpenCircuitV = "Open-circuit voltage [V]"
)

// Thevenin is a first-order equivalent circuit model: an open-circuit voltage
// source depending on state of charge, a series resistance R0 and one RC pair.
//
//	V  = OCV(soc) - R0*I - V1
//	dV1/dt = -V1/(R1*C1) + I/C1
//	dsoc/dt = -I / (3600*Q)
//
// The RC state is advanced with the exact zero-order-hold update, so the
// result does not depend on the step size for piecewise constant currents.
type Thevenin struct {
	defaults map[string]float64
	ocv      []float64
}

// DefaultOCV is an ascending polynomial in state of charge spanning 3.3–4.2 V
var DefaultOCV = []float64{3.3, 1.0, -0.6, 0.5}

// NewThevenin creates the model. Constants override default inputs that are
// not fitted; a nil ocv selects DefaultOCV.
func NewThevenin(constants map[string]float64, ocv []float64) *Thevenin {
	defaults := map[string]float64{
		R0:       0.01,
		R1:       0.015,
		C1:       1500,
		Capacity: 5,
	}
	for k, v := range constants {
		defaults[k] = v
	}
	if len(ocv) == 0 {
		ocv = DefaultOCV
	}
	return &Thevenin{defaults: defaults, ocv: append([]float64(nil), ocv...)}
}

// Name implements Model
func (m *Thevenin) Name() string { return "thevenin" }

// Parameters implements Model
func (m *Thevenin) Parameters() []string { return []string{R0, R1, C1, Capacity} }

// Outputs implements Model
func (m *Thevenin) Outputs() []string { return []string{Voltage, Current, SOC, OpenCircuitV} }

// OpenCircuitVoltage evaluates the OCV polynomial at soc
func (m *Thevenin) OpenCircuitVoltage(soc float64) float64 {
	v := 0.0
	for i := len(m.ocv) - 1; i >= 0; i-- {
		v = v*soc + m.ocv[i]
	}
	return v
}

// Simulate implements Model
func (m *Thevenin) Simulate(ctx context.Context, inputs parameters.Vector, state InitialState, protocol Protocol) (*TimeSeries, error) {
	var values [4]float64
	for i, name := range m.Parameters() {
		v, err := lookupInput(inputs, m.defaults, name)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	r0, r1, c1, capacity := values[0], values[1], values[2], values[3]

	n := len(protocol.Time)
	if n == 0 {
		return nil, fmt.Errorf("%s: empty time axis", m.Name())
	}
	if protocol.Current != nil && len(protocol.Current) != n {
		return nil, fmt.Errorf("%s: current has %d samples, time axis has %d", m.Name(), len(protocol.Current), n)
	}
	t0 := protocol.Time[0]
	if r0 < 0 || r1 <= 0 || c1 <= 0 || capacity <= 0 {
		return nil, &DivergenceError{Model: m.Name(), Time: t0, Reason: "non-physical circuit parameters"}
	}

	soc := 0.5
	if s, ok := state[StateOfCharge]; ok {
		soc = s
	}
	if soc < 0 || soc > 1 {
		return nil, &DivergenceError{Model: m.Name(), Time: t0, Reason: "initial state of charge outside [0, 1]"}
	}

	current := func(i int) float64 {
		if protocol.Current == nil {
			return 0
		}
		return protocol.Current[i]
	}

	tau := r1 * c1
	voltage := make([]float64, n)
	currents := make([]float64, n)
	socs := make([]float64, n)
	ocvs := make([]float64, n)

	v1 := 0.0
	for i := 0; i < n; i++ {
		t := protocol.Time[i]
		if i > 0 {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, &DivergenceError{Model: m.Name(), Time: t, Reason: err.Error()}
				}
			}
			dt := t - protocol.Time[i-1]
			iPrev := current(i - 1)
			decay := math.Exp(-dt / tau)
			v1 = v1*decay + r1*iPrev*(1-decay)
			soc -= iPrev * dt / (3600 * capacity)
		}
		if soc < 0 || soc > 1 {
			return nil, &DivergenceError{Model: m.Name(), Time: t, Reason: "state of charge left [0, 1]"}
		}

		ocv := m.OpenCircuitVoltage(soc)
		currents[i] = current(i)
		socs[i] = soc
		ocvs[i] = ocv
		voltage[i] = ocv - r0*currents[i] - v1
		if err := checkFinite(m.Name(), t, voltage[i], v1); err != nil {
			return nil, err
		}
	}

	return &TimeSeries{
		Time: append([]float64(nil), protocol.Time...),
		Signals: map[string][]float64{
			Voltage:      voltage,
			Current:      currents,
			SOC:          socs,
			OpenCircuitV: ocvs,
		},
	}, nil
}
