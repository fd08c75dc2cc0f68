package external

import (
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
	"go.uber.org/zap"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// minMayflyPopulation is the smallest swarm mayfly runs reliably with
const minMayflyPopulation = 20

// Mayfly runs the mayfly algorithm in the unit cube spanned by the bounds,
// or by x0 ± 3 sigma0 along unbounded dimensions. The library only takes
// scalar limits, so candidates are rescaled on the way out.
type Mayfly struct {
	bridge

	// PopulationSize is the number of mayflies per sex, at least 20
	PopulationSize int
	// MaxIterations ends the library run on its own
	MaxIterations int

	lower []float64
	width []float64
}

// NewMayfly creates a mayfly optimiser
func NewMayfly(logger *zap.Logger) *Mayfly {
	return &Mayfly{
		bridge:        newBridge("mayfly", logger),
		MaxIterations: 10000,
	}
}

// Init implements optimization.Optimiser
func (m *Mayfly) Init(x0, sigma0 []float64, bounds *parameters.Bounds, rng *rand.Rand) error {
	if err := optimization.ValidateStart(x0, sigma0, bounds); err != nil {
		return optimization.WrapError(err, "init").WithComponent(m.name)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	n := len(x0)
	m.lower, m.width = parameters.SearchBox(x0, sigma0, bounds)

	cfg := mayfly.NewDefaultConfig()
	cfg.ProblemSize = n
	cfg.LowerBound = 0
	cfg.UpperBound = 1
	cfg.NPop = max(minMayflyPopulation, m.PopulationSize)
	cfg.MaxIterations = m.MaxIterations
	cfg.Rand = rand.New(rand.NewSource(rng.Int63()))
	cfg.ObjectiveFunc = func(u []float64) float64 {
		return m.objective(m.fromUnit(u))
	}

	m.start(func() error {
		result, err := mayfly.Optimize(cfg)
		if err == nil {
			m.logger.Debug("mayfly run finished", zap.Float64("cost", result.GlobalBest.Cost))
		}
		return err
	})
	return nil
}

func (m *Mayfly) fromUnit(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, v := range u {
		x[i] = m.lower[i] + math.Max(0, math.Min(1, v))*m.width[i]
	}
	return x
}
