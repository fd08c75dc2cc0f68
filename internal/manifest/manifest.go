// Package manifest reads a fitting run description from YAML or JSON and
// builds the problem, cost, optimiser and driver configuration from it.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/cellfit/internal/model"
	"github.com/copyleftdev/cellfit/internal/optimization"
)

// ErrInvalidManifest is wrapped by every validation failure
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest describes one fitting run. JSON documents are accepted as the
// YAML subset they are.
type Manifest struct {
	Name         string             `yaml:"name" json:"name"`
	Model        ModelSpec          `yaml:"model" json:"model"`
	InitialState map[string]float64 `yaml:"initial_state,omitempty" json:"initial_state,omitempty"`
	Parameters   []ParameterSpec    `yaml:"parameters" json:"parameters"`
	Signals      []string           `yaml:"signals" json:"signals"`
	Cost         CostSpec           `yaml:"cost" json:"cost"`
	Optimiser    OptimiserSpec      `yaml:"optimiser" json:"optimiser"`
	Run          RunSpec            `yaml:"run" json:"run"`
	Synth        *SynthSpec         `yaml:"synth,omitempty" json:"synth,omitempty"`
}

// ModelSpec selects a reference model and its fixed constants
type ModelSpec struct {
	Name      string             `yaml:"name" json:"name"`
	Constants map[string]float64 `yaml:"constants,omitempty" json:"constants,omitempty"`
	// Timeout bounds every simulation, e.g. "2s"
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ParameterSpec is one fitted parameter
type ParameterSpec struct {
	Name    string    `yaml:"name" json:"name"`
	Prior   PriorSpec `yaml:"prior,omitempty" json:"prior,omitempty"`
	Bounds  []float64 `yaml:"bounds,omitempty" json:"bounds,omitempty"`
	Initial *float64  `yaml:"initial,omitempty" json:"initial,omitempty"`
}

// PriorSpec selects a prior: gaussian{mean, sigma}, uniform{lower, upper}
// or exponential{scale}
type PriorSpec struct {
	Kind  string  `yaml:"kind" json:"kind"`
	Mean  float64 `yaml:"mean,omitempty" json:"mean,omitempty"`
	Sigma float64 `yaml:"sigma,omitempty" json:"sigma,omitempty"`
	Lower float64 `yaml:"lower,omitempty" json:"lower,omitempty"`
	Upper float64 `yaml:"upper,omitempty" json:"upper,omitempty"`
	Scale float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
}

// CostSpec selects the cost function. Sigma is one noise level or one per
// signal.
type CostSpec struct {
	Kind  string    `yaml:"kind" json:"kind"`
	Sigma []float64 `yaml:"sigma,omitempty" json:"sigma,omitempty"`
}

// OptimiserSpec selects the backend
type OptimiserSpec struct {
	Name          string    `yaml:"name" json:"name"`
	Population    int       `yaml:"population,omitempty" json:"population,omitempty"`
	LearningRate  float64   `yaml:"learning_rate,omitempty" json:"learning_rate,omitempty"`
	InitialPoints int       `yaml:"initial_points,omitempty" json:"initial_points,omitempty"`
	Sigma0        []float64 `yaml:"sigma0,omitempty" json:"sigma0,omitempty"`
}

// RunSpec mirrors optimization.Config. Unset fields keep the defaults the
// caller passes to Config.
type RunSpec struct {
	MaxIterations            *int         `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	MaxUnchangedIterations   *int         `yaml:"max_unchanged_iterations,omitempty" json:"max_unchanged_iterations,omitempty"`
	UnchangedThreshold       *float64     `yaml:"unchanged_threshold,omitempty" json:"unchanged_threshold,omitempty"`
	TargetCost               *float64     `yaml:"target_cost,omitempty" json:"target_cost,omitempty"`
	ConvergenceWindow        int          `yaml:"convergence_window,omitempty" json:"convergence_window,omitempty"`
	ConvergenceTolerance     float64      `yaml:"convergence_tolerance,omitempty" json:"convergence_tolerance,omitempty"`
	AllowInfeasibleSolutions bool         `yaml:"allow_infeasible_solutions,omitempty" json:"allow_infeasible_solutions,omitempty"`
	BoundaryPolicy           string       `yaml:"boundary_policy,omitempty" json:"boundary_policy,omitempty"`
	Penalty                  *PenaltySpec `yaml:"penalty,omitempty" json:"penalty,omitempty"`
	FatalSolverFailures      bool         `yaml:"fatal_solver_failures,omitempty" json:"fatal_solver_failures,omitempty"`
	Seed                     *int64       `yaml:"seed,omitempty" json:"seed,omitempty"`
	Verbose                  bool         `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	EvaluationTimeout        string       `yaml:"evaluation_timeout,omitempty" json:"evaluation_timeout,omitempty"`
}

// PenaltySpec selects the infeasible penalty: fixed{value} or
// landscape{factor, offset}
type PenaltySpec struct {
	Kind   string   `yaml:"kind" json:"kind"`
	Value  *float64 `yaml:"value,omitempty" json:"value,omitempty"`
	Factor float64  `yaml:"factor,omitempty" json:"factor,omitempty"`
	Offset float64  `yaml:"offset,omitempty" json:"offset,omitempty"`
}

// Parse decodes a YAML or JSON manifest and validates it
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses a manifest file
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Validate checks the parts of the manifest that do not need a dataset
func (m *Manifest) Validate() error {
	var problems []string
	if m.Model.Name == "" {
		problems = append(problems, "model.name is required")
	}
	if len(m.Parameters) == 0 {
		problems = append(problems, "at least one parameter is required")
	}
	seen := make(map[string]bool, len(m.Parameters))
	for i, p := range m.Parameters {
		switch {
		case p.Name == "":
			problems = append(problems, fmt.Sprintf("parameters[%d].name is required", i))
		case seen[p.Name]:
			problems = append(problems, fmt.Sprintf("parameter %q is declared twice", p.Name))
		}
		seen[p.Name] = true
		if len(p.Bounds) != 0 && len(p.Bounds) != 2 {
			problems = append(problems, fmt.Sprintf("parameter %q: bounds need [lower, upper]", p.Name))
		}
	}
	if len(m.Signals) == 0 {
		problems = append(problems, "at least one signal is required")
	}
	if m.Cost.Kind == "" {
		problems = append(problems, "cost.kind is required")
	}
	if m.Optimiser.Name == "" {
		problems = append(problems, "optimiser.name is required")
	}
	if n := len(m.Optimiser.Sigma0); n != 0 && n != len(m.Parameters) {
		problems = append(problems, fmt.Sprintf("optimiser.sigma0 has %d values for %d parameters", n, len(m.Parameters)))
	}
	for _, d := range []struct{ field, value string }{
		{"model.timeout", m.Model.Timeout},
		{"run.evaluation_timeout", m.Run.EvaluationTimeout},
	} {
		if _, err := parseDuration(d.value); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", d.field, err))
		}
	}
	if m.Run.BoundaryPolicy != "" {
		if _, err := optimization.ParseBoundaryPolicy(m.Run.BoundaryPolicy); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(problems, "; "))
	}
	return nil
}

// BuildModel returns the reference model, wrapped with the simulation
// timeout when one is set
func (m *Manifest) BuildModel() (model.Model, error) {
	mdl, err := model.New(m.Model.Name, m.Model.Constants)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	timeout, err := parseDuration(m.Model.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: model.timeout: %w", ErrInvalidManifest, err)
	}
	return model.WithTimeout(mdl, timeout), nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
