package manifest

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cellfit/internal/dataset"
	"github.com/copyleftdev/cellfit/internal/optimization"
)

const decayManifest = `
name: decay
model:
  name: exponential-decay
  timeout: 1s
parameters:
  - name: k
    prior: {kind: gaussian, mean: 0.68, sigma: 0.05}
    bounds: [0.1, 2]
    initial: 0.62
  - name: y0
    prior: {kind: gaussian, mean: 0.58, sigma: 0.05}
    initial: 0.64
signals: [y, 2y]
cost:
  kind: rmse
optimiser:
  name: nelder-mead
run:
  max_iterations: 100
  max_unchanged_iterations: 45
  seed: 7
synth:
  start: 0
  stop: 5
  points: 100
  truth: {k: 0.68, y0: 0.58}
  noise: 0.003
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(decayManifest))
	require.NoError(t, err)

	assert.Equal(t, "decay", m.Name)
	assert.Equal(t, "exponential-decay", m.Model.Name)
	require.Len(t, m.Parameters, 2)
	assert.Equal(t, "gaussian", m.Parameters[0].Prior.Kind)
	assert.Equal(t, []float64{0.1, 2}, m.Parameters[0].Bounds)
	require.NotNil(t, m.Parameters[1].Initial)
	assert.Equal(t, 0.64, *m.Parameters[1].Initial)
	assert.Equal(t, []string{"y", "2y"}, m.Signals)
	require.NotNil(t, m.Run.MaxIterations)
	assert.Equal(t, 100, *m.Run.MaxIterations)
	assert.Equal(t, 0.003, m.Synth.Noise)
}

func TestParseJSON(t *testing.T) {
	m, err := Parse([]byte(`{
		"model": {"name": "exponential-decay"},
		"parameters": [{"name": "k", "prior": {"kind": "uniform", "lower": 0, "upper": 1}}],
		"signals": ["y"],
		"cost": {"kind": "sse"},
		"optimiser": {"name": "pso", "population": 12}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 12, m.Optimiser.Population)
	assert.Equal(t, "uniform", m.Parameters[0].Prior.Kind)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing model", `{parameters: [{name: k}], signals: [y], cost: {kind: sse}, optimiser: {name: pso}}`, "model.name is required"},
		{"no parameters", `{model: {name: m}, signals: [y], cost: {kind: sse}, optimiser: {name: pso}}`, "at least one parameter"},
		{"duplicate parameter", `{model: {name: m}, parameters: [{name: k}, {name: k}], signals: [y], cost: {kind: sse}, optimiser: {name: pso}}`, "declared twice"},
		{"bad bounds", `{model: {name: m}, parameters: [{name: k, bounds: [1]}], signals: [y], cost: {kind: sse}, optimiser: {name: pso}}`, "bounds need"},
		{"no signals", `{model: {name: m}, parameters: [{name: k}], cost: {kind: sse}, optimiser: {name: pso}}`, "at least one signal"},
		{"sigma0 length", `{model: {name: m}, parameters: [{name: k}], signals: [y], cost: {kind: sse}, optimiser: {name: pso, sigma0: [1, 2]}}`, "sigma0 has 2 values"},
		{"bad timeout", `{model: {name: m, timeout: soon}, parameters: [{name: k}], signals: [y], cost: {kind: sse}, optimiser: {name: pso}}`, "model.timeout"},
		{"bad policy", `{model: {name: m}, parameters: [{name: k}], signals: [y], cost: {kind: sse}, optimiser: {name: pso}, run: {boundary_policy: bounce}}`, "unknown boundary policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidManifest)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Parse([]byte("model: [unclosed"))
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(decayManifest), 0o600))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "decay", m.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildParameters(t *testing.T) {
	m, err := Parse([]byte(decayManifest))
	require.NoError(t, err)

	params, err := m.BuildParameters()
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "y0"}, params.Names())
	assert.Equal(t, []float64{0.62, 0.64}, params.InitialGuess(rand.New(rand.NewSource(1))))
	assert.InDeltaSlice(t, []float64{0.05, 0.05}, params.Sigma0(), 1e-12)

	bounds := params.Bounds()
	require.NotNil(t, bounds)
	assert.Equal(t, 0.1, bounds.Lower[0])

	m.Parameters[0].Prior.Kind = "cauchy"
	_, err = m.BuildParameters()
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestConfig(t *testing.T) {
	m, err := Parse([]byte(`
model: {name: exponential-decay}
parameters: [{name: k, prior: {kind: exponential, scale: 1}}]
signals: [y]
cost: {kind: sse}
optimiser: {name: cmaes, sigma0: [0.3]}
run:
  target_cost: 0.5
  convergence_window: 10
  convergence_tolerance: 0.001
  boundary_policy: clip
  allow_infeasible_solutions: true
  penalty: {kind: landscape, factor: 2, offset: 1}
  evaluation_timeout: 250ms
`))
	require.NoError(t, err)

	defaults := optimization.DefaultConfig()
	cfg, err := m.Config(defaults)
	require.NoError(t, err)

	assert.Equal(t, defaults.MaxIterations, cfg.MaxIterations)
	assert.Equal(t, defaults.MaxUnchangedIterations, cfg.MaxUnchangedIterations)
	require.NotNil(t, cfg.TargetCost)
	assert.Equal(t, 0.5, *cfg.TargetCost)
	assert.Equal(t, 10, cfg.ConvergenceWindow)
	assert.Equal(t, optimization.BoundaryClip, cfg.BoundaryPolicy)
	assert.True(t, cfg.AllowInfeasibleSolutions)
	assert.Equal(t, optimization.LandscapePenalty{Factor: 2, Offset: 1}, cfg.Penalty)
	assert.Equal(t, 250*time.Millisecond, cfg.EvaluationTimeout)
	assert.Equal(t, []float64{0.3}, cfg.Sigma0)

	zero := 0.0
	m.Run.Penalty = &PenaltySpec{Kind: "fixed", Value: &zero}
	cfg, err = m.Config(defaults)
	require.NoError(t, err)
	assert.Equal(t, optimization.FixedPenalty{}, cfg.Penalty)

	m.Run.Penalty = &PenaltySpec{Kind: "quadratic"}
	_, err = m.Config(defaults)
	assert.ErrorIs(t, err, optimization.ErrInvalidConfig)

	negative := -1
	m.Run.Penalty = nil
	m.Run.MaxIterations = &negative
	_, err = m.Config(defaults)
	assert.ErrorIs(t, err, optimization.ErrInvalidConfig)
}

func TestBuildErrors(t *testing.T) {
	data, err := dataset.New(map[string][]float64{
		dataset.Time: {0, 1, 2},
		"y":          {1, 0.9, 0.8},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{"unknown model", func(m *Manifest) { m.Model.Name = "p2d" }},
		{"unknown cost", func(m *Manifest) { m.Cost.Kind = "huber" }},
		{"unknown optimiser", func(m *Manifest) { m.Optimiser.Name = "simulated-annealing" }},
		{"signal missing from data", func(m *Manifest) { m.Signals = []string{"2y"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(decayManifest))
			require.NoError(t, err)
			m.Signals = []string{"y"}
			tt.mutate(m)
			_, err = m.Build(data, optimization.DefaultConfig(), nil)
			assert.Error(t, err)
		})
	}
}

func TestSynthesise(t *testing.T) {
	m, err := Parse([]byte(decayManifest))
	require.NoError(t, err)

	clean, err := m.Synthesise(context.Background(), 0, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 100, clean.Len())
	assert.True(t, clean.Has(dataset.Current))

	y, err := clean.Signal("y")
	require.NoError(t, err)
	assert.InDelta(t, 0.58, y[0], 1e-12)
	y2, err := clean.Signal("2y")
	require.NoError(t, err)
	assert.InDelta(t, 1.16, y2[0], 1e-12)

	a, err := m.Synthesise(context.Background(), -1, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	b, err := m.Synthesise(context.Background(), -1, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	ya, _ := a.Signal("y")
	yb, _ := b.Signal("y")
	assert.Equal(t, ya, yb, "seeded noise is reproducible")
	assert.NotEqual(t, y, ya)
	assert.InDelta(t, 0.58, ya[0], 0.02)

	t.Run("truth defaults to prior means", func(t *testing.T) {
		m.Synth.Truth = map[string]float64{"k": 0.5}
		truth, err := m.Truth()
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5, 0.58}, truth.Values())
	})

	t.Run("synth section required", func(t *testing.T) {
		m.Synth = nil
		_, err := m.Synthesise(context.Background(), 0, nil)
		assert.ErrorIs(t, err, ErrInvalidManifest)
	})
}

func TestFitRecoversSyntheticParameters(t *testing.T) {
	m, err := Parse([]byte(decayManifest))
	require.NoError(t, err)

	data, err := m.Synthesise(context.Background(), -1, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	run, err := m.Build(data, optimization.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "decay", run.Name)
	assert.Equal(t, "nelder-mead", run.Optimiser.Name())
	assert.Equal(t, 100, run.Config.MaxIterations)
	assert.Equal(t, 45, run.Config.MaxUnchangedIterations)

	ev, err := run.Cost.Evaluate(context.Background(), []float64{0.68, 0.58})
	require.NoError(t, err)
	assert.Less(t, ev.Cost, 0.01)

	opt, err := optimization.New(run.Cost, run.Optimiser, run.Config)
	require.NoError(t, err)
	result, err := opt.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, []optimization.State{
		optimization.MaxIterationsReached, optimization.Stalled, optimization.Converged,
	}, result.Reason)
	assert.InDeltaSlice(t, []float64{0.68, 0.58}, result.Best.Values(), 0.02)
	assert.Less(t, result.BestCost, result.History[0].BestCost)
}

func TestFitScenarios(t *testing.T) {
	tests := []struct {
		name    string
		noise   float64
		mutate  func(m *Manifest)
		epsilon float64
	}{
		{
			name:    "noise free nelder-mead",
			noise:   0,
			mutate:  func(m *Manifest) {},
			epsilon: 0.01,
		},
		{
			name:  "noisy adam allowing infeasible solutions",
			noise: -1,
			mutate: func(m *Manifest) {
				m.Optimiser = OptimiserSpec{Name: "adam", Sigma0: []float64{0.05, 0.05}}
				m.Run.AllowInfeasibleSolutions = true
			},
			epsilon: 0.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(decayManifest))
			require.NoError(t, err)
			tt.mutate(m)
			require.NoError(t, m.Validate())

			data, err := m.Synthesise(context.Background(), tt.noise, rand.New(rand.NewSource(42)))
			require.NoError(t, err)
			run, err := m.Build(data, optimization.DefaultConfig(), nil)
			require.NoError(t, err)

			opt, err := optimization.New(run.Cost, run.Optimiser, run.Config)
			require.NoError(t, err)
			result, err := opt.Run(context.Background())
			require.NoError(t, err)

			assert.NotEqual(t, optimization.Failed, result.Reason)
			assert.InEpsilonSlice(t, []float64{0.68, 0.58}, result.Best.Values(), tt.epsilon)
		})
	}
}
