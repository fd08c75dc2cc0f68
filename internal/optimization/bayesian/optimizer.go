// Package bayesian implements Bayesian optimisation with a Gaussian process
// surrogate. The search runs in the unit cube spanned by the parameter
// bounds, or by x0 ± 3 sigma0 along unbounded dimensions.
package bayesian

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/optimization/acquisition"
	"github.com/copyleftdev/cellfit/internal/optimization/kernels"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// lengthScales are the candidates tried by marginal likelihood, in unit
// cube coordinates
var lengthScales = []float64{0.05, 0.1, 0.2, 0.4, 0.8}

// Optimiser asks for a Latin hypercube design first and then for one point
// per iteration, the maximiser of the acquisition function under the
// current surrogate.
type Optimiser struct {
	// InitialPoints is the size of the Latin hypercube warm-up. Zero means
	// max(5, 2n+1).
	InitialPoints int
	// Kernel names the covariance function, see kernels.Names
	Kernel string
	// Acquisition names the acquisition function, "ei" or "lcb"
	Acquisition string
	// Restarts is the number of Nelder-Mead starts per acquisition search.
	// Zero means 5 + 5 sqrt(n).
	Restarts int
	// NoiseVar is added to the kernel diagonal
	NoiseVar float64

	logger *zap.Logger

	n      int
	rng    *rand.Rand
	lower  []float64
	width  []float64
	x0     []float64
	gp     *GP
	acq    acquisition.Function
	xs     [][]float64
	ys     []float64
	asked  [][]float64
	warmed bool
}

// New creates a Bayesian optimiser with a Matérn 5/2 kernel and expected
// improvement. A nil logger discards output.
func New(logger *zap.Logger) *Optimiser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimiser{
		Kernel:      "matern52",
		Acquisition: "ei",
		NoiseVar:    1e-6,
		logger:      logger.Named("bayesian"),
	}
}

// Name implements optimization.Optimiser
func (bo *Optimiser) Name() string { return "bayesian" }

// Init implements optimization.Optimiser
func (bo *Optimiser) Init(x0, sigma0 []float64, bounds *parameters.Bounds, rng *rand.Rand) error {
	if err := optimization.ValidateStart(x0, sigma0, bounds); err != nil {
		return optimization.WrapError(err, "init").WithComponent(bo.Name())
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if bo.logger == nil {
		bo.logger = zap.NewNop()
	}

	if bo.Kernel == "" {
		bo.Kernel = "matern52"
	}
	kernel, err := kernels.New(bo.Kernel, 0.2, 1)
	if err != nil {
		return optimization.WrapError(optimization.ErrInvalidConfig, err.Error()).WithComponent(bo.Name()).WithOperation("init")
	}
	acq, err := acquisition.New(bo.Acquisition)
	if err != nil {
		return optimization.WrapError(optimization.ErrInvalidConfig, err.Error()).WithComponent(bo.Name()).WithOperation("init")
	}

	bo.n = len(x0)
	bo.rng = rng
	bo.gp = NewGP(kernel, bo.NoiseVar, bo.logger)
	bo.acq = acq
	bo.lower, bo.width = parameters.SearchBox(x0, sigma0, bounds)
	bo.x0 = bo.toUnit(x0)
	bo.xs, bo.ys, bo.asked = nil, nil, nil
	bo.warmed = false
	return nil
}

func (bo *Optimiser) toUnit(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, v := range x {
		u[i] = math.Max(0, math.Min(1, (v-bo.lower[i])/bo.width[i]))
	}
	return u
}

func (bo *Optimiser) fromUnit(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, v := range u {
		x[i] = bo.lower[i] + v*bo.width[i]
	}
	return x
}

// Ask implements optimization.Optimiser
func (bo *Optimiser) Ask() ([][]float64, error) {
	if bo.gp == nil {
		return nil, optimization.NewError("ask before init").WithComponent(bo.Name()).WithOperation("ask")
	}
	if bo.asked != nil {
		return nil, optimization.NewError("ask called twice without tell").WithComponent(bo.Name()).WithOperation("ask")
	}

	if !bo.warmed {
		size := bo.InitialPoints
		if size <= 0 {
			size = max(5, 2*bo.n+1)
		}
		bo.asked = append([][]float64{bo.x0}, latinHypercube(bo.rng, size, bo.n)...)
	} else {
		bo.asked = [][]float64{bo.propose()}
	}

	out := make([][]float64, len(bo.asked))
	for k, u := range bo.asked {
		out[k] = bo.fromUnit(u)
	}
	return out, nil
}

// propose fits the surrogate and returns the acquisition maximiser, or a
// uniform draw when no surrogate can be built
func (bo *Optimiser) propose() []float64 {
	X, y, best, ok := bo.trainingData()
	if !ok {
		return bo.uniform()
	}
	if err := bo.gp.SelectLengthScale(X, y, lengthScales); err != nil {
		bo.logger.Warn("Surrogate fit failed, sampling uniformly", zap.Error(err))
		return bo.uniform()
	}
	bo.acq.UpdateBest(best)

	next := bo.maximizeAcquisition(X, y)
	for _, x := range bo.xs {
		if floats.EqualApprox(x, next, 1e-9) {
			return bo.uniform()
		}
	}
	return next
}

// trainingData standardises the observed costs. Non-finite costs are
// replaced by the worst finite one so that infeasible regions look bad
// without wrecking the scale.
func (bo *Optimiser) trainingData() (*mat.Dense, *mat.VecDense, float64, bool) {
	worst := math.Inf(-1)
	for _, c := range bo.ys {
		if !math.IsInf(c, 0) && !math.IsNaN(c) {
			worst = math.Max(worst, c)
		}
	}
	if math.IsInf(worst, -1) {
		return nil, nil, 0, false
	}

	values := make([]float64, len(bo.ys))
	for k, c := range bo.ys {
		if math.IsInf(c, 0) || math.IsNaN(c) {
			c = worst
		}
		values[k] = c
	}
	mean, std := stat.MeanStdDev(values, nil)
	if !(std > 0) {
		std = 1
	}

	X := mat.NewDense(len(bo.xs), bo.n, nil)
	y := mat.NewVecDense(len(values), nil)
	best := math.Inf(1)
	for k, c := range values {
		X.SetRow(k, bo.xs[k])
		z := (c - mean) / std
		y.SetVec(k, z)
		best = math.Min(best, z)
	}
	return X, y, best, true
}

// maximizeAcquisition runs Nelder-Mead on the negated acquisition from the
// incumbent and from random starts in the unit cube
func (bo *Optimiser) maximizeAcquisition(X *mat.Dense, y *mat.VecDense) []float64 {
	clip := func(x []float64) []float64 {
		out := make([]float64, len(x))
		for i, v := range x {
			out[i] = math.Max(0, math.Min(1, v))
		}
		return out
	}
	objective := func(x []float64) float64 {
		mu, variance, err := bo.gp.Predict(mat.NewDense(1, bo.n, clip(x)))
		if err != nil {
			return math.Inf(1)
		}
		return -bo.acq.Compute(mu.AtVec(0), math.Sqrt(variance.AtVec(0)))
	}

	restarts := bo.Restarts
	if restarts <= 0 {
		restarts = 5 + int(5*math.Sqrt(float64(bo.n)))
	}
	starts := make([][]float64, 0, restarts)
	starts = append(starts, incumbent(X, y))
	for len(starts) < restarts {
		starts = append(starts, bo.uniform())
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		FuncEvaluations: 200 * bo.n,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 100,
		},
	}

	bestX := starts[0]
	bestVal := objective(bestX)
	for _, start := range starts {
		method := &optimize.NelderMead{SimplexSize: 0.2}
		result, err := optimize.Minimize(problem, start, settings, method)
		if result == nil {
			bo.logger.Debug("Acquisition search failed", zap.Error(err))
			continue
		}
		if result.F < bestVal {
			bestVal = result.F
			bestX = clip(result.X)
		}
	}
	return bestX
}

// incumbent returns the training point with the lowest target
func incumbent(X *mat.Dense, y *mat.VecDense) []float64 {
	k := 0
	for i := 1; i < y.Len(); i++ {
		if y.AtVec(i) < y.AtVec(k) {
			k = i
		}
	}
	return append([]float64(nil), X.RawRowView(k)...)
}

func (bo *Optimiser) uniform() []float64 {
	u := make([]float64, bo.n)
	for i := range u {
		u[i] = bo.rng.Float64()
	}
	return u
}

// Tell implements optimization.Optimiser
func (bo *Optimiser) Tell(costs []float64) error {
	if bo.asked == nil {
		return optimization.NewError("tell before ask").WithComponent(bo.Name()).WithOperation("tell")
	}
	if len(costs) != len(bo.asked) {
		return optimization.WrapErrorf(optimization.ErrDimensionMismatch,
			"%d costs for %d candidates", len(costs), len(bo.asked)).WithComponent(bo.Name()).WithOperation("tell")
	}
	bo.xs = append(bo.xs, bo.asked...)
	bo.ys = append(bo.ys, costs...)
	bo.asked = nil
	bo.warmed = true
	return nil
}

// Observations returns the number of points told so far
func (bo *Optimiser) Observations() int { return len(bo.ys) }

// latinHypercube draws n points in [0,1)^dims with exactly one point per
// stratum [j/n, (j+1)/n) along every dimension
func latinHypercube(rng *rand.Rand, n, dims int) [][]float64 {
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, dims)
	}
	for i := 0; i < dims; i++ {
		perm := rng.Perm(n)
		for j := 0; j < n; j++ {
			samples[j][i] = (float64(perm[j]) + rng.Float64()) / float64(n)
		}
	}
	return samples
}
