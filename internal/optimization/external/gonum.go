package external

import (
	"math/rand"
	randv2 "math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// Gonum runs a gonum/optimize method, one evaluation per iteration. The
// method's own convergence test ends the search.
type Gonum struct {
	bridge

	// PopulationSize overrides the CMA-ES default
	PopulationSize int

	newMethod func(x0, sigma0 []float64, rng *rand.Rand) (optimize.Method, error)
}

// NewGonumNelderMead wraps optimize.NelderMead. The initial simplex size is
// the mean of sigma0.
func NewGonumNelderMead(logger *zap.Logger) *Gonum {
	return &Gonum{
		bridge: newBridge("gonum-nelder-mead", logger),
		newMethod: func(_, sigma0 []float64, _ *rand.Rand) (optimize.Method, error) {
			return &optimize.NelderMead{SimplexSize: stat.Mean(sigma0, nil)}, nil
		},
	}
}

// NewGonumCMAES wraps optimize.CmaEsChol with an initial covariance of
// diag(sigma0²). Its samples are drawn from a source seeded by the run's
// generator.
func NewGonumCMAES(logger *zap.Logger) *Gonum {
	g := &Gonum{bridge: newBridge("gonum-cmaes", logger)}
	g.newMethod = func(_, sigma0 []float64, rng *rand.Rand) (optimize.Method, error) {
		cov := mat.NewSymDense(len(sigma0), nil)
		for i, s := range sigma0 {
			cov.SetSym(i, i, s*s)
		}
		var chol mat.Cholesky
		if !chol.Factorize(cov) {
			return nil, optimization.WrapError(optimization.ErrOptimiserFailure, "initial covariance is not positive definite")
		}
		return &optimize.CmaEsChol{
			InitStepSize: 1,
			InitCholesky: &chol,
			Population:   g.PopulationSize,
			Src:          randv2.NewPCG(uint64(rng.Int63()), uint64(rng.Int63())),
		}, nil
	}
	return g
}

// Init implements optimization.Optimiser
func (g *Gonum) Init(x0, sigma0 []float64, bounds *parameters.Bounds, rng *rand.Rand) error {
	if err := optimization.ValidateStart(x0, sigma0, bounds); err != nil {
		return optimization.WrapError(err, "init").WithComponent(g.name)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	method, err := g.newMethod(x0, sigma0, rng)
	if err != nil {
		return optimization.WrapError(err, "init").WithComponent(g.name)
	}

	problem := optimize.Problem{
		Func: g.objective,
		Status: func() (optimize.Status, error) {
			if g.stopped() {
				return optimize.Failure, errStopped
			}
			return optimize.NotTerminated, nil
		},
	}
	start := append([]float64(nil), x0...)
	g.start(func() error {
		result, err := optimize.Minimize(problem, start, &optimize.Settings{Concurrent: 1}, method)
		if result != nil {
			g.logger.Debug("gonum run finished",
				zap.String("status", result.Status.String()),
				zap.Float64("cost", result.F),
				zap.Int("evaluations", result.FuncEvaluations))
		}
		return err
	})
	return nil
}
