package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cellfit/internal/dataset"
	"github.com/copyleftdev/cellfit/internal/server"
)

const runManifest = `
name: decay
model: {name: exponential-decay}
parameters:
  - {name: k, prior: {kind: gaussian, mean: 0.68, sigma: 0.05}, initial: 0.62}
  - {name: y0, prior: {kind: gaussian, mean: 0.58, sigma: 0.05}, initial: 0.64}
signals: [y, 2y]
cost: {kind: rmse}
optimiser: {name: nelder-mead}
run: {max_iterations: 100, max_unchanged_iterations: 45}
synth: {start: 0, stop: 5, points: 60, truth: {k: 0.68, y0: 0.58}, noise: 0.003}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSynthThenFit(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "run.yaml")
	dataPath := filepath.Join(dir, "data.csv")
	resultPath := filepath.Join(dir, "result.json")
	require.NoError(t, os.WriteFile(manifestPath, []byte(runManifest), 0o600))

	_, err := execute(t, "synth", "--manifest", manifestPath, "--out", dataPath, "--seed", "4")
	require.NoError(t, err)

	data, err := dataset.Load(dataPath)
	require.NoError(t, err)
	assert.Equal(t, 60, data.Len())
	assert.True(t, data.Has("y"))
	assert.True(t, data.Has("2y"))

	_, err = execute(t, "fit", "--manifest", manifestPath, "--data", dataPath, "--out", resultPath, "--workers", "2")
	require.NoError(t, err)

	raw, err := os.ReadFile(resultPath)
	require.NoError(t, err)
	var result server.ResultView
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "decay", result.Name)
	assert.Equal(t, "nelder-mead", result.Optimiser)
	assert.InDelta(t, 0.68, result.Parameters["k"], 0.02)
	assert.InDelta(t, 0.58, result.Parameters["y0"], 0.02)
	require.NotNil(t, result.BestCost)
	assert.Less(t, *result.BestCost, 0.01)
}

func TestSynthNoiseFlag(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(runManifest), 0o600))

	clean := filepath.Join(dir, "clean.csv")
	_, err := execute(t, "synth", "--manifest", manifestPath, "--out", clean, "--noise", "0")
	require.NoError(t, err)

	data, err := dataset.Load(clean)
	require.NoError(t, err)
	y, err := data.Signal("y")
	require.NoError(t, err)
	assert.InDelta(t, 0.58, y[0], 1e-9)
}

func TestFitWritesToStdout(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "run.yaml")
	dataPath := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(manifestPath, []byte(runManifest), 0o600))
	_, err := execute(t, "synth", "--manifest", manifestPath, "--out", dataPath)
	require.NoError(t, err)

	out, err := execute(t, "fit", "--manifest", manifestPath, "--data", dataPath, "--seed", "9")
	require.NoError(t, err)
	assert.Contains(t, out, `"reason"`)
	assert.Contains(t, out, `"parameters"`)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"fit needs flags", []string{"fit"}, "required flag"},
		{"missing manifest", []string{"fit", "--manifest", filepath.Join(dir, "none.yaml"), "--data", "x.csv"}, "read manifest"},
		{"synth needs out", []string{"synth", "--manifest", "run.yaml"}, "required flag"},
		{"optimisers takes no args", []string{"optimisers", "extra"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOptimisers(t *testing.T) {
	out, err := execute(t, "optimisers")
	require.NoError(t, err)
	names := strings.Fields(out)
	assert.Contains(t, names, "nelder-mead")
	assert.Contains(t, names, "bayesian")
	assert.Contains(t, names, "mayfly")

	out, err = execute(t, "optimisers", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "costs:")
	assert.Contains(t, out, "  rmse")
	assert.Contains(t, out, "  exponential-decay")
}
