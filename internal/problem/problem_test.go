package problem

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cellfit/internal/dataset"
	"github.com/copyleftdev/cellfit/internal/model"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

type truncatingModel struct{ *model.ExponentialDecay }

func (m truncatingModel) Simulate(ctx context.Context, in parameters.Vector, s model.InitialState, p model.Protocol) (*model.TimeSeries, error) {
	ts, err := m.ExponentialDecay.Simulate(ctx, in, s, p)
	if err != nil {
		return nil, err
	}
	ts.Signals["y"] = ts.Signals["y"][:1]
	return ts, nil
}

func decaySet(t *testing.T) *parameters.Set {
	t.Helper()
	prior, err := parameters.NewGaussian(0.1, 0.02)
	require.NoError(t, err)
	k, err := parameters.New("k", prior)
	require.NoError(t, err)
	set, err := parameters.NewSet(k)
	require.NoError(t, err)
	return set
}

func decayData(t *testing.T) *dataset.Dataset {
	t.Helper()
	tm := []float64{0, 1, 2, 3}
	y := make([]float64, len(tm))
	for i, v := range tm {
		y[i] = math.Exp(-0.1 * v)
	}
	d, err := dataset.New(map[string][]float64{dataset.Time: tm, "y": y})
	require.NoError(t, err)
	return d
}

func TestNew(t *testing.T) {
	set := decaySet(t)
	data := decayData(t)

	_, err := New(model.NewExponentialDecay(nil), set, data, []string{"y"})
	assert.NoError(t, err)

	_, err = New(model.NewExponentialDecay(nil), set, data, []string{"2y"})
	assert.ErrorIs(t, err, dataset.ErrMissingSignal)

	_, err = New(model.NewExponentialDecay(nil), set, data, []string{"Voltage [V]"})
	assert.Error(t, err)

	_, err = New(model.NewExponentialDecay(nil), set, data, nil)
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	p, err := New(model.NewExponentialDecay(nil), decaySet(t), decayData(t), []string{"y"})
	require.NoError(t, err)

	out, err := p.Simulate(context.Background(), []float64{0.1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, p.Target("y"), out["y"], 1e-12)

	_, err = p.Simulate(context.Background(), []float64{0.1, 0.2})
	assert.ErrorIs(t, err, parameters.ErrDimensionMismatch)

	short, err := New(truncatingModel{model.NewExponentialDecay(nil)}, decaySet(t), decayData(t), []string{"y"})
	require.NoError(t, err)
	_, err = short.Simulate(context.Background(), []float64{0.1})
	assert.ErrorIs(t, err, model.ErrSolverDivergence)
}
