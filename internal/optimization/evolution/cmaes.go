package evolution

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// CMAES is the covariance matrix adaptation evolution strategy with
// cumulative step-size adaptation, rank-one and rank-μ covariance updates.
// The search distribution is N(mean, σ²C) with C initialised to diag(sigma0²).
type CMAES struct {
	population

	// PopulationSize overrides 4 + floor(3 ln n)
	PopulationSize int
	// TolX ends the search once σ times the largest axis of C falls
	// below it.
	TolX float64

	mu      int
	weights []float64
	mueff   float64
	cc, cs  float64
	c1, cmu float64
	damps   float64
	chiN    float64

	mean       []float64
	sigma      float64
	pc, ps     []float64
	cov        *mat.SymDense
	axes       *mat.Dense
	scales     []float64
	steps      [][]float64
	generation int
}

// NewCMAES creates a CMA-ES optimiser
func NewCMAES() *CMAES {
	return &CMAES{population: population{name: "cmaes"}, TolX: 1e-12}
}

// Name implements optimization.Optimiser
func (c *CMAES) Name() string { return c.name }

// Init implements optimization.Optimiser
func (c *CMAES) Init(x0, sigma0 []float64, bounds *parameters.Bounds, rng *rand.Rand) error {
	if err := c.init(x0, sigma0, bounds, rng, c.PopulationSize); err != nil {
		return err
	}
	n := float64(c.n)

	c.mu = c.size / 2
	c.weights = make([]float64, c.mu)
	for i := range c.weights {
		c.weights[i] = math.Log(float64(c.mu)+0.5) - math.Log(float64(i+1))
	}
	floats.Scale(1/floats.Sum(c.weights), c.weights)
	c.mueff = 1 / floats.Dot(c.weights, c.weights)

	c.cc = (4 + c.mueff/n) / (n + 4 + 2*c.mueff/n)
	c.cs = (c.mueff + 2) / (n + c.mueff + 5)
	c.c1 = 2 / ((n+1.3)*(n+1.3) + c.mueff)
	c.cmu = math.Min(1-c.c1, 2*(c.mueff-2+1/c.mueff)/((n+2)*(n+2)+c.mueff))
	c.damps = 1 + 2*math.Max(0, math.Sqrt((c.mueff-1)/(n+1))-1) + c.cs
	c.chiN = math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))

	c.mean = append([]float64(nil), x0...)
	c.sigma = 1
	c.pc = make([]float64, c.n)
	c.ps = make([]float64, c.n)
	c.cov = mat.NewSymDense(c.n, nil)
	for i, s := range sigma0 {
		c.cov.SetSym(i, i, s*s)
	}
	c.generation = 0
	c.steps = nil
	return c.decompose()
}

// decompose refreshes the eigen decomposition C = B diag(D²) Bᵀ
func (c *CMAES) decompose() error {
	var eig mat.EigenSym
	if ok := eig.Factorize(c.cov, true); !ok {
		return c.failure("eigen decomposition of the covariance failed at generation %d", c.generation).WithOperation("decompose")
	}
	values := eig.Values(nil)
	c.scales = make([]float64, c.n)
	for i, v := range values {
		if !(v > 0) || !finite(v) {
			return c.failure("covariance is no longer positive definite (eigenvalue %g) at generation %d", v, c.generation).WithOperation("decompose")
		}
		c.scales[i] = math.Sqrt(v)
	}
	c.axes = mat.NewDense(c.n, c.n, nil)
	eig.VectorsTo(c.axes)
	return nil
}

// Ask implements optimization.Optimiser
func (c *CMAES) Ask() ([][]float64, error) {
	if c.mean == nil {
		return nil, optimization.NewError("ask before init").WithComponent(c.name).WithOperation("ask")
	}
	if c.sigma*floats.Max(c.scales) < c.TolX {
		return nil, optimization.ErrSearchComplete
	}

	c.steps = make([][]float64, c.size)
	c.asked = make([][]float64, c.size)
	scaled := mat.NewVecDense(c.n, nil)
	for k := range c.asked {
		z := normals(c.rng, c.n)
		for i := range z {
			scaled.SetVec(i, c.scales[i]*z[i])
		}
		var y mat.VecDense
		y.MulVec(c.axes, scaled)

		c.steps[k] = make([]float64, c.n)
		copy(c.steps[k], y.RawVector().Data)
		x := make([]float64, c.n)
		floats.AddScaledTo(x, c.mean, c.sigma, c.steps[k])
		c.asked[k] = x
	}
	return copyAll(c.asked), nil
}

// Tell implements optimization.Optimiser
func (c *CMAES) Tell(costs []float64) error {
	if err := c.checkTell(costs); err != nil {
		return err
	}
	order := rank(costs)
	c.generation++

	yw := make([]float64, c.n)
	for i := 0; i < c.mu; i++ {
		floats.AddScaled(yw, c.weights[i], c.steps[order[i]])
	}
	floats.AddScaled(c.mean, c.sigma, yw)

	// C^{-1/2} yw = B diag(1/D) Bᵀ yw
	ywVec := mat.NewVecDense(c.n, append([]float64(nil), yw...))
	var proj mat.VecDense
	proj.MulVec(c.axes.T(), ywVec)
	for i := 0; i < c.n; i++ {
		proj.SetVec(i, proj.AtVec(i)/c.scales[i])
	}
	var whitened mat.VecDense
	whitened.MulVec(c.axes, &proj)

	floats.Scale(1-c.cs, c.ps)
	floats.AddScaled(c.ps, math.Sqrt(c.cs*(2-c.cs)*c.mueff), whitened.RawVector().Data)

	psNorm := floats.Norm(c.ps, 2)
	hsig := 0.0
	if psNorm/math.Sqrt(1-math.Pow(1-c.cs, 2*float64(c.generation)))/c.chiN < 1.4+2/(float64(c.n)+1) {
		hsig = 1
	}

	floats.Scale(1-c.cc, c.pc)
	floats.AddScaled(c.pc, hsig*math.Sqrt(c.cc*(2-c.cc)*c.mueff), yw)

	decay := 1 - c.c1 - c.cmu + (1-hsig)*c.c1*c.cc*(2-c.cc)
	c.cov.ScaleSym(decay, c.cov)
	c.cov.SymRankOne(c.cov, c.c1, mat.NewVecDense(c.n, append([]float64(nil), c.pc...)))
	for i := 0; i < c.mu; i++ {
		c.cov.SymRankOne(c.cov, c.cmu*c.weights[i], mat.NewVecDense(c.n, append([]float64(nil), c.steps[order[i]]...)))
	}

	c.sigma *= math.Exp((c.cs / c.damps) * (psNorm/c.chiN - 1))
	if !finite(c.sigma) || !finite(c.mean...) {
		return c.failure("search distribution diverged at generation %d", c.generation).WithOperation("tell")
	}
	c.asked = nil
	return c.decompose()
}

// Mean returns the current centre of the search distribution
func (c *CMAES) Mean() []float64 { return append([]float64(nil), c.mean...) }
