// Package simplex implements the Nelder-Mead downhill simplex method as an
// ask/tell state machine.
package simplex

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

type phase int

const (
	phaseInitial phase = iota
	phaseReflect
	phaseExpand
	phaseContractOutside
	phaseContractInside
	phaseShrink
)

// NelderMead keeps a simplex of n+1 vertices. Each iteration asks for one
// point (reflection, expansion or contraction) or, after a failed
// contraction, for the n shrunk vertices.
type NelderMead struct {
	Reflection  float64
	Expansion   float64
	Contraction float64
	Shrink      float64
	// TolF ends the search once the spread of vertex costs falls below it
	// and the simplex has collapsed to TolX.
	TolF, TolX float64

	n        int
	vertices [][]float64
	costs    []float64
	phase    phase
	waiting  bool

	centroid  []float64
	reflected []float64
	fReflect  float64
	asked     [][]float64
}

// New creates a Nelder-Mead optimiser with the standard coefficients
func New() *NelderMead {
	return &NelderMead{
		Reflection:  1,
		Expansion:   2,
		Contraction: 0.5,
		Shrink:      0.5,
		TolF:        1e-12,
		TolX:        1e-10,
	}
}

// Name implements optimization.Optimiser
func (nm *NelderMead) Name() string { return "nelder-mead" }

// Init implements optimization.Optimiser. The initial simplex is x0 and
// x0 + sigma0_i e_i.
func (nm *NelderMead) Init(x0, sigma0 []float64, bounds *parameters.Bounds, _ *rand.Rand) error {
	if err := optimization.ValidateStart(x0, sigma0, bounds); err != nil {
		return optimization.WrapError(err, "init").WithComponent(nm.Name())
	}
	nm.n = len(x0)
	nm.vertices = make([][]float64, nm.n+1)
	nm.vertices[0] = append([]float64(nil), x0...)
	for i := 0; i < nm.n; i++ {
		v := append([]float64(nil), x0...)
		v[i] += sigma0[i]
		nm.vertices[i+1] = v
	}
	nm.costs = make([]float64, nm.n+1)
	nm.phase = phaseInitial
	nm.waiting = false
	return nil
}

// Ask implements optimization.Optimiser
func (nm *NelderMead) Ask() ([][]float64, error) {
	if nm.vertices == nil {
		return nil, optimization.NewError("ask before init").WithComponent(nm.Name()).WithOperation("ask")
	}
	if nm.waiting {
		return nil, optimization.NewError("ask called twice without tell").WithComponent(nm.Name()).WithOperation("ask")
	}

	switch nm.phase {
	case phaseInitial:
		nm.asked = nm.vertices
	case phaseReflect:
		if nm.converged() {
			return nil, optimization.ErrSearchComplete
		}
		nm.centroid = make([]float64, nm.n)
		for _, v := range nm.vertices[:nm.n] {
			floats.Add(nm.centroid, v)
		}
		floats.Scale(1/float64(nm.n), nm.centroid)
		nm.reflected = nm.along(nm.Reflection)
		nm.asked = [][]float64{nm.reflected}
	case phaseExpand:
		nm.asked = [][]float64{nm.along(nm.Reflection * nm.Expansion)}
	case phaseContractOutside:
		nm.asked = [][]float64{nm.along(nm.Reflection * nm.Contraction)}
	case phaseContractInside:
		nm.asked = [][]float64{nm.along(-nm.Contraction)}
	case phaseShrink:
		nm.asked = make([][]float64, nm.n)
		for i := range nm.asked {
			v := make([]float64, nm.n)
			floats.SubTo(v, nm.vertices[i+1], nm.vertices[0])
			floats.AddScaledTo(v, nm.vertices[0], nm.Shrink, v)
			nm.asked[i] = v
		}
	}

	nm.waiting = true
	out := make([][]float64, len(nm.asked))
	for i, x := range nm.asked {
		out[i] = append([]float64(nil), x...)
	}
	return out, nil
}

// along returns centroid + t (centroid - worst)
func (nm *NelderMead) along(t float64) []float64 {
	worst := nm.vertices[nm.n]
	x := make([]float64, nm.n)
	for i := range x {
		x[i] = nm.centroid[i] + t*(nm.centroid[i]-worst[i])
	}
	return x
}

// Tell implements optimization.Optimiser
func (nm *NelderMead) Tell(costs []float64) error {
	if !nm.waiting {
		return optimization.NewError("tell before ask").WithComponent(nm.Name()).WithOperation("tell")
	}
	if len(costs) != len(nm.asked) {
		return optimization.WrapErrorf(optimization.ErrDimensionMismatch,
			"%d costs for %d candidates", len(costs), len(nm.asked)).WithComponent(nm.Name()).WithOperation("tell")
	}
	nm.waiting = false
	costs = sanitise(costs)

	switch nm.phase {
	case phaseInitial:
		copy(nm.costs, costs)
		nm.sort()
		nm.phase = phaseReflect

	case phaseReflect:
		fr := costs[0]
		nm.fReflect = fr
		switch {
		case fr < nm.costs[0]:
			nm.phase = phaseExpand
		case fr < nm.costs[nm.n-1]:
			nm.replaceWorst(nm.reflected, fr)
		case fr < nm.costs[nm.n]:
			nm.phase = phaseContractOutside
		default:
			nm.phase = phaseContractInside
		}

	case phaseExpand:
		if costs[0] < nm.fReflect {
			nm.replaceWorst(nm.asked[0], costs[0])
		} else {
			nm.replaceWorst(nm.reflected, nm.fReflect)
		}

	case phaseContractOutside:
		if costs[0] <= nm.fReflect {
			nm.replaceWorst(nm.asked[0], costs[0])
		} else {
			nm.phase = phaseShrink
		}

	case phaseContractInside:
		if costs[0] < nm.costs[nm.n] {
			nm.replaceWorst(nm.asked[0], costs[0])
		} else {
			nm.phase = phaseShrink
		}

	case phaseShrink:
		for i, c := range costs {
			nm.vertices[i+1] = nm.asked[i]
			nm.costs[i+1] = c
		}
		nm.sort()
		nm.phase = phaseReflect
	}
	return nil
}

func (nm *NelderMead) replaceWorst(x []float64, c float64) {
	nm.vertices[nm.n] = append([]float64(nil), x...)
	nm.costs[nm.n] = c
	nm.sort()
	nm.phase = phaseReflect
}

// sort orders vertices by cost, keeping the older vertex first on ties
func (nm *NelderMead) sort() {
	idx := make([]int, nm.n+1)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return nm.costs[idx[a]] < nm.costs[idx[b]] })

	vertices := make([][]float64, nm.n+1)
	costs := make([]float64, nm.n+1)
	for i, j := range idx {
		vertices[i] = nm.vertices[j]
		costs[i] = nm.costs[j]
	}
	nm.vertices, nm.costs = vertices, costs
}

func (nm *NelderMead) converged() bool {
	if math.IsInf(nm.costs[nm.n], 1) {
		return false
	}
	if nm.costs[nm.n]-nm.costs[0] > nm.TolF {
		return false
	}
	for _, v := range nm.vertices[1:] {
		if floats.Distance(v, nm.vertices[0], math.Inf(1)) > nm.TolX {
			return false
		}
	}
	return true
}

// Best returns the best vertex and its cost
func (nm *NelderMead) Best() ([]float64, float64) {
	return append([]float64(nil), nm.vertices[0]...), nm.costs[0]
}

func sanitise(costs []float64) []float64 {
	out := make([]float64, len(costs))
	for i, c := range costs {
		if math.IsNaN(c) {
			c = math.Inf(1)
		}
		out[i] = c
	}
	return out
}
