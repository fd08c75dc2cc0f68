// Package backends builds optimisers by name.
package backends

import (
	"sort"

	"go.uber.org/zap"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/optimization/bayesian"
	"github.com/copyleftdev/cellfit/internal/optimization/evolution"
	"github.com/copyleftdev/cellfit/internal/optimization/external"
	"github.com/copyleftdev/cellfit/internal/optimization/gradient"
	"github.com/copyleftdev/cellfit/internal/optimization/simplex"
)

// Options tune the optimiser New builds. Zero values keep each backend's
// defaults.
type Options struct {
	// PopulationSize applies to the population based backends
	PopulationSize int
	// LearningRate applies to gradient-descent
	LearningRate float64
	// InitialPoints is the warm-up design size of the bayesian backend
	InitialPoints int
	Logger        *zap.Logger
}

type factory func(Options) optimization.Optimiser

var registry = map[string]factory{
	"gradient-descent": func(o Options) optimization.Optimiser {
		d := gradient.NewDescent()
		d.LearningRate = o.LearningRate
		return d
	},
	"adam":       func(Options) optimization.Optimiser { return gradient.NewAdam() },
	"irprop-min": func(Options) optimization.Optimiser { return gradient.NewIRPropMin() },
	"cmaes": func(o Options) optimization.Optimiser {
		c := evolution.NewCMAES()
		c.PopulationSize = o.PopulationSize
		return c
	},
	"xnes": func(o Options) optimization.Optimiser {
		x := evolution.NewXNES()
		x.PopulationSize = o.PopulationSize
		return x
	},
	"snes": func(o Options) optimization.Optimiser {
		s := evolution.NewSNES()
		s.PopulationSize = o.PopulationSize
		return s
	},
	"pso": func(o Options) optimization.Optimiser {
		p := evolution.NewPSO()
		p.PopulationSize = o.PopulationSize
		return p
	},
	"nelder-mead": func(Options) optimization.Optimiser { return simplex.New() },
	"bayesian": func(o Options) optimization.Optimiser {
		b := bayesian.New(o.Logger)
		b.InitialPoints = o.InitialPoints
		return b
	},
	"gonum-nelder-mead": func(o Options) optimization.Optimiser { return external.NewGonumNelderMead(o.Logger) },
	"gonum-cmaes": func(o Options) optimization.Optimiser {
		g := external.NewGonumCMAES(o.Logger)
		g.PopulationSize = o.PopulationSize
		return g
	},
	"mayfly": func(o Options) optimization.Optimiser {
		m := external.NewMayfly(o.Logger)
		m.PopulationSize = o.PopulationSize
		return m
	},
}

// New returns a fresh optimiser. Unknown names are ErrInvalidConfig.
func New(name string, opts Options) (optimization.Optimiser, error) {
	build, ok := registry[name]
	if !ok {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig,
			"unknown optimiser %q (available: %v)", name, Available()).WithComponent("backends")
	}
	if opts.LearningRate < 0 || opts.PopulationSize < 0 || opts.InitialPoints < 0 {
		return nil, optimization.WrapError(optimization.ErrInvalidConfig, "negative optimiser option").WithComponent("backends")
	}
	return build(opts), nil
}

// Available lists the optimiser names New accepts, sorted
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
