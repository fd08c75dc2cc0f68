package evolution

import (
	"math"
	"math/rand"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// PSO is global-best particle swarm optimisation. The first particle starts
// at x0; the others are scattered around it by sigma0, or uniformly inside
// the bounds when these are finite.
type PSO struct {
	population

	// PopulationSize overrides 4 + floor(3 ln n)
	PopulationSize int
	Inertia        float64
	Cognitive      float64
	Social         float64

	position     [][]float64
	velocity     [][]float64
	personal     [][]float64
	personalCost []float64
	global       []float64
	globalCost   float64
}

// NewPSO creates a particle swarm with inertia 0.72 and both acceleration
// coefficients 1.49.
func NewPSO() *PSO {
	return &PSO{
		population: population{name: "pso"},
		Inertia:    0.72,
		Cognitive:  1.49,
		Social:     1.49,
	}
}

// Name implements optimization.Optimiser
func (p *PSO) Name() string { return p.name }

// Init implements optimization.Optimiser
func (p *PSO) Init(x0, sigma0 []float64, bounds *parameters.Bounds, rng *rand.Rand) error {
	if err := p.init(x0, sigma0, bounds, rng, p.PopulationSize); err != nil {
		return err
	}

	p.position = make([][]float64, p.size)
	p.velocity = make([][]float64, p.size)
	p.personal = make([][]float64, p.size)
	p.personalCost = make([]float64, p.size)
	for k := range p.position {
		x := append([]float64(nil), x0...)
		if k > 0 {
			if bounds.Finite() {
				for i := range x {
					x[i] = bounds.Lower[i] + p.rng.Float64()*(bounds.Upper[i]-bounds.Lower[i])
				}
			} else {
				for i := range x {
					x[i] += sigma0[i] * p.rng.NormFloat64()
				}
				x = bounds.Clip(x)
			}
		}
		v := make([]float64, p.n)
		for i := range v {
			v[i] = 0.1 * sigma0[i] * p.rng.Float64()
		}
		p.position[k] = x
		p.velocity[k] = v
		p.personal[k] = append([]float64(nil), x...)
		p.personalCost[k] = math.Inf(1)
	}
	p.global = append([]float64(nil), x0...)
	p.globalCost = math.Inf(1)
	return nil
}

// Ask implements optimization.Optimiser
func (p *PSO) Ask() ([][]float64, error) {
	if p.position == nil {
		return nil, optimization.NewError("ask before init").WithComponent(p.name).WithOperation("ask")
	}
	p.asked = copyAll(p.position)
	return copyAll(p.asked), nil
}

// Tell implements optimization.Optimiser
func (p *PSO) Tell(costs []float64) error {
	if err := p.checkTell(costs); err != nil {
		return err
	}

	for k, c := range costs {
		if c < p.personalCost[k] {
			p.personalCost[k] = c
			p.personal[k] = append(p.personal[k][:0], p.position[k]...)
		}
		if c < p.globalCost {
			p.globalCost = c
			p.global = append(p.global[:0], p.position[k]...)
		}
	}

	for k := range p.position {
		x, v := p.position[k], p.velocity[k]
		for i := range x {
			r1, r2 := p.rng.Float64(), p.rng.Float64()
			v[i] = p.Inertia*v[i] +
				p.Cognitive*r1*(p.personal[k][i]-x[i]) +
				p.Social*r2*(p.global[i]-x[i])
			x[i] += v[i]
		}
		if !finite(x...) {
			return p.failure("particle %d left the finite domain", k).WithOperation("tell")
		}
	}
	p.asked = nil
	return nil
}

// Best returns the best position seen by the swarm
func (p *PSO) Best() ([]float64, float64) {
	return append([]float64(nil), p.global...), p.globalCost
}
