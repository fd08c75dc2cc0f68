package evolution

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// XNES is the exponential natural evolution strategy. It samples
// x = μ + A z and adapts the full factor A through the matrix exponential
// of the natural gradient, so A A^T stays positive definite.
type XNES struct {
	population

	// PopulationSize overrides 4 + floor(3 ln n)
	PopulationSize int

	mean    []float64
	factor  *mat.Dense
	samples [][]float64
	utility []float64
	etaA    float64
}

// NewXNES creates an xNES optimiser
func NewXNES() *XNES {
	return &XNES{population: population{name: "xnes"}}
}

// Name implements optimization.Optimiser
func (x *XNES) Name() string { return x.name }

// Init implements optimization.Optimiser
func (x *XNES) Init(x0, sigma0 []float64, bounds *parameters.Bounds, rng *rand.Rand) error {
	if err := x.init(x0, sigma0, bounds, rng, x.PopulationSize); err != nil {
		return err
	}
	n := float64(x.n)
	x.mean = append([]float64(nil), x0...)
	x.factor = mat.NewDense(x.n, x.n, nil)
	for i, s := range sigma0 {
		x.factor.Set(i, i, s)
	}
	x.utility = utilities(x.size)
	x.etaA = 0.6 * (3 + math.Log(n)) / (n * math.Sqrt(n))
	return nil
}

// Ask implements optimization.Optimiser
func (x *XNES) Ask() ([][]float64, error) {
	if x.mean == nil {
		return nil, optimization.NewError("ask before init").WithComponent(x.name).WithOperation("ask")
	}
	x.samples = make([][]float64, x.size)
	x.asked = make([][]float64, x.size)
	for k := range x.asked {
		z := normals(x.rng, x.n)
		var step mat.VecDense
		step.MulVec(x.factor, mat.NewVecDense(x.n, z))
		c := make([]float64, x.n)
		floats.AddTo(c, x.mean, step.RawVector().Data)
		x.samples[k] = z
		x.asked[k] = c
	}
	return copyAll(x.asked), nil
}

// Tell implements optimization.Optimiser
func (x *XNES) Tell(costs []float64) error {
	if err := x.checkTell(costs); err != nil {
		return err
	}
	order := rank(costs)

	gradMean := make([]float64, x.n)
	gradFactor := mat.NewDense(x.n, x.n, nil)
	for k, idx := range order {
		u := x.utility[k]
		z := x.samples[idx]
		floats.AddScaled(gradMean, u, z)
		for i := 0; i < x.n; i++ {
			for j := 0; j < x.n; j++ {
				v := z[i] * z[j]
				if i == j {
					v--
				}
				gradFactor.Set(i, j, gradFactor.At(i, j)+u*v)
			}
		}
	}

	var step mat.VecDense
	step.MulVec(x.factor, mat.NewVecDense(x.n, gradMean))
	floats.Add(x.mean, step.RawVector().Data)

	gradFactor.Scale(0.5*x.etaA, gradFactor)
	var expm, next mat.Dense
	expm.Exp(gradFactor)
	next.Mul(x.factor, &expm)
	x.factor = &next

	if !finite(x.mean...) || !finite(x.factor.RawMatrix().Data...) {
		return x.failure("search distribution diverged").WithOperation("tell")
	}
	x.asked = nil
	return nil
}

// Mean returns the current centre of the search distribution
func (x *XNES) Mean() []float64 { return append([]float64(nil), x.mean...) }

// SNES is the separable natural evolution strategy: a diagonal Gaussian
// whose per-dimension scales adapt multiplicatively.
type SNES struct {
	population

	// PopulationSize overrides 4 + floor(3 ln n)
	PopulationSize int

	mean    []float64
	sigma   []float64
	samples [][]float64
	utility []float64
	etaS    float64
}

// NewSNES creates an sNES optimiser
func NewSNES() *SNES {
	return &SNES{population: population{name: "snes"}}
}

// Name implements optimization.Optimiser
func (s *SNES) Name() string { return s.name }

// Init implements optimization.Optimiser
func (s *SNES) Init(x0, sigma0 []float64, bounds *parameters.Bounds, rng *rand.Rand) error {
	if err := s.init(x0, sigma0, bounds, rng, s.PopulationSize); err != nil {
		return err
	}
	n := float64(s.n)
	s.mean = append([]float64(nil), x0...)
	s.sigma = append([]float64(nil), sigma0...)
	s.utility = utilities(s.size)
	s.etaS = (3 + math.Log(n)) / (5 * math.Sqrt(n))
	return nil
}

// Ask implements optimization.Optimiser
func (s *SNES) Ask() ([][]float64, error) {
	if s.mean == nil {
		return nil, optimization.NewError("ask before init").WithComponent(s.name).WithOperation("ask")
	}
	s.samples = make([][]float64, s.size)
	s.asked = make([][]float64, s.size)
	for k := range s.asked {
		z := normals(s.rng, s.n)
		c := make([]float64, s.n)
		for i := range c {
			c[i] = s.mean[i] + s.sigma[i]*z[i]
		}
		s.samples[k] = z
		s.asked[k] = c
	}
	return copyAll(s.asked), nil
}

// Tell implements optimization.Optimiser
func (s *SNES) Tell(costs []float64) error {
	if err := s.checkTell(costs); err != nil {
		return err
	}
	order := rank(costs)

	gradMean := make([]float64, s.n)
	gradSigma := make([]float64, s.n)
	for k, idx := range order {
		u := s.utility[k]
		for i, zi := range s.samples[idx] {
			gradMean[i] += u * zi
			gradSigma[i] += u * (zi*zi - 1)
		}
	}
	for i := range s.mean {
		s.mean[i] += s.sigma[i] * gradMean[i]
		s.sigma[i] *= math.Exp(0.5 * s.etaS * gradSigma[i])
	}

	if !finite(s.mean...) || !finite(s.sigma...) {
		return s.failure("search distribution diverged").WithOperation("tell")
	}
	s.asked = nil
	return nil
}

// Mean returns the current centre of the search distribution
func (s *SNES) Mean() []float64 { return append([]float64(nil), s.mean...) }
