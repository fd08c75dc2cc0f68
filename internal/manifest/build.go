package manifest

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/cellfit/internal/cost"
	"github.com/copyleftdev/cellfit/internal/dataset"
	"github.com/copyleftdev/cellfit/internal/model"
	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/optimization/backends"
	"github.com/copyleftdev/cellfit/internal/parameters"
	"github.com/copyleftdev/cellfit/internal/problem"
)

// Run is everything the driver needs, built from a manifest and a dataset
type Run struct {
	Name      string
	Problem   *problem.FittingProblem
	Cost      cost.Function
	Optimiser optimization.Optimiser
	Config    optimization.Config
}

// Build assembles the run against data. defaults supplies the settings the
// manifest leaves unset.
func (m *Manifest) Build(data *dataset.Dataset, defaults optimization.Config, logger *zap.Logger) (*Run, error) {
	p, err := m.BuildProblem(data)
	if err != nil {
		return nil, err
	}
	f, err := m.BuildCost(p)
	if err != nil {
		return nil, err
	}
	opt, err := m.BuildOptimiser(logger)
	if err != nil {
		return nil, err
	}
	cfg, err := m.Config(defaults)
	if err != nil {
		return nil, err
	}
	return &Run{Name: m.Name, Problem: p, Cost: f, Optimiser: opt, Config: cfg}, nil
}

// BuildParameters returns the fitted parameter set in declaration order
func (m *Manifest) BuildParameters() (*parameters.Set, error) {
	params := make([]*parameters.Parameter, 0, len(m.Parameters))
	for _, spec := range m.Parameters {
		prior, err := spec.Prior.build()
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %w", ErrInvalidManifest, spec.Name, err)
		}
		var opts []parameters.Option
		if len(spec.Bounds) == 2 {
			opts = append(opts, parameters.WithBounds(spec.Bounds[0], spec.Bounds[1]))
		}
		if spec.Initial != nil {
			opts = append(opts, parameters.WithInitialValue(*spec.Initial))
		}
		p, err := parameters.New(spec.Name, prior, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
		params = append(params, p)
	}
	set, err := parameters.NewSet(params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return set, nil
}

func (p PriorSpec) build() (parameters.Prior, error) {
	switch p.Kind {
	case "":
		return nil, nil
	case "gaussian", "normal":
		return parameters.NewGaussian(p.Mean, p.Sigma)
	case "uniform":
		return parameters.NewUniform(p.Lower, p.Upper)
	case "exponential":
		return parameters.NewExponential(p.Scale)
	}
	return nil, fmt.Errorf("unknown prior kind %q", p.Kind)
}

// BuildProblem binds the model and parameters to data
func (m *Manifest) BuildProblem(data *dataset.Dataset) (*problem.FittingProblem, error) {
	mdl, err := m.BuildModel()
	if err != nil {
		return nil, err
	}
	params, err := m.BuildParameters()
	if err != nil {
		return nil, err
	}
	var opts []problem.Option
	if len(m.InitialState) > 0 {
		opts = append(opts, problem.WithInitialState(model.InitialState(m.InitialState)))
	}
	return problem.New(mdl, params, data, m.Signals, opts...)
}

// BuildCost returns the configured cost over p
func (m *Manifest) BuildCost(p *problem.FittingProblem) (cost.Function, error) {
	f, err := cost.New(cost.Kind(m.Cost.Kind), p, m.Cost.Sigma)
	if err != nil {
		return nil, fmt.Errorf("%w: cost: %w", ErrInvalidManifest, err)
	}
	return f, nil
}

// BuildOptimiser returns a fresh optimiser. The result is single use.
func (m *Manifest) BuildOptimiser(logger *zap.Logger) (optimization.Optimiser, error) {
	return backends.New(m.Optimiser.Name, backends.Options{
		PopulationSize: m.Optimiser.Population,
		LearningRate:   m.Optimiser.LearningRate,
		InitialPoints:  m.Optimiser.InitialPoints,
		Logger:         logger,
	})
}

// Config overlays the run settings on defaults. The pool is left to the
// caller.
func (m *Manifest) Config(defaults optimization.Config) (optimization.Config, error) {
	cfg := defaults
	r := m.Run

	if r.MaxIterations != nil {
		cfg.MaxIterations = *r.MaxIterations
	}
	if r.MaxUnchangedIterations != nil {
		cfg.MaxUnchangedIterations = *r.MaxUnchangedIterations
	}
	if r.UnchangedThreshold != nil {
		cfg.UnchangedThreshold = *r.UnchangedThreshold
	}
	if r.TargetCost != nil {
		target := *r.TargetCost
		cfg.TargetCost = &target
	}
	if r.ConvergenceWindow != 0 {
		cfg.ConvergenceWindow = r.ConvergenceWindow
		cfg.ConvergenceTolerance = r.ConvergenceTolerance
	}
	if r.Seed != nil {
		cfg.Seed = *r.Seed
	}
	cfg.AllowInfeasibleSolutions = cfg.AllowInfeasibleSolutions || r.AllowInfeasibleSolutions
	cfg.FatalSolverFailures = cfg.FatalSolverFailures || r.FatalSolverFailures
	cfg.Verbose = cfg.Verbose || r.Verbose

	if r.BoundaryPolicy != "" {
		policy, err := optimization.ParseBoundaryPolicy(r.BoundaryPolicy)
		if err != nil {
			return cfg, err
		}
		cfg.BoundaryPolicy = policy
	}
	if r.Penalty != nil {
		penalty, err := r.Penalty.build()
		if err != nil {
			return cfg, err
		}
		cfg.Penalty = penalty
	}
	if r.EvaluationTimeout != "" {
		d, err := time.ParseDuration(r.EvaluationTimeout)
		if err != nil {
			return cfg, fmt.Errorf("%w: run.evaluation_timeout: %w", ErrInvalidManifest, err)
		}
		cfg.EvaluationTimeout = d
	}
	if len(m.Optimiser.Sigma0) > 0 {
		cfg.Sigma0 = append([]float64(nil), m.Optimiser.Sigma0...)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (p PenaltySpec) build() (optimization.PenaltyPolicy, error) {
	switch p.Kind {
	case "", "fixed":
		if p.Value == nil {
			return optimization.FixedPenalty{Value: optimization.DefaultPenalty}, nil
		}
		return optimization.FixedPenalty{Value: *p.Value}, nil
	case "landscape":
		return optimization.LandscapePenalty{Factor: p.Factor, Offset: p.Offset}, nil
	}
	return nil, fmt.Errorf("%w: unknown penalty kind %q", optimization.ErrInvalidConfig, p.Kind)
}
