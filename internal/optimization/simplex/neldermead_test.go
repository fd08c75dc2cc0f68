package simplex

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/optimization/optimisertest"
)

func TestMinimise(t *testing.T) {
	tests := []struct {
		name string
		f    func([]float64) float64
		x0   []float64
		want []float64
		tol  float64
	}{
		{"sphere", optimisertest.Sphere, []float64{2, -1, 3}, []float64{0, 0, 0}, 1e-5},
		{"rosenbrock", optimisertest.Rosenbrock, []float64{-1.2, 1}, []float64{1, 1}, 1e-4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigma0 := make([]float64, len(tt.x0))
			for i := range sigma0 {
				sigma0[i] = 0.5
			}
			best, _ := optimisertest.Minimise(t, New(), tt.f, tt.x0, sigma0, nil, 5000)
			optimisertest.AssertClose(t, tt.want, best, tt.tol)
		})
	}
}

func TestInitialSimplex(t *testing.T) {
	nm := New()
	require.NoError(t, nm.Init([]float64{1, 2}, []float64{0.1, 0.2}, nil, nil))

	xs, err := nm.Ask()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {1.1, 2}, {1, 2.2}}, xs)

	_, err = nm.Ask()
	assert.Error(t, err, "ask twice")

	require.NoError(t, nm.Tell([]float64{3, 1, 2}))
	best, cost := nm.Best()
	assert.Equal(t, []float64{1.1, 2}, best)
	assert.Equal(t, 1.0, cost)

	xs, err = nm.Ask()
	require.NoError(t, err)
	require.Len(t, xs, 1)
	// Reflection of the worst vertex (1, 2) through the centroid (1.05, 2.1).
	assert.InDeltaSlice(t, []float64{1.1, 2.2}, xs[0], 1e-12)
}

func TestShrinkAfterFailedContraction(t *testing.T) {
	nm := New()
	require.NoError(t, nm.Init([]float64{0}, []float64{1}, nil, nil))

	_, err := nm.Ask()
	require.NoError(t, err)
	require.NoError(t, nm.Tell([]float64{0, 1}))

	_, err = nm.Ask()
	require.NoError(t, err)
	require.NoError(t, nm.Tell([]float64{math.NaN()}))

	xs, err := nm.Ask()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5}, xs[0], 1e-12, "inside contraction")
	require.NoError(t, nm.Tell([]float64{5}))

	xs, err = nm.Ask()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5}, xs[0], 1e-12, "shrink towards the best vertex")
}

func TestSearchComplete(t *testing.T) {
	nm := New()
	nm.TolX = 1e-6
	nm.TolF = 1e-9

	var err error
	require.NoError(t, nm.Init([]float64{1, 1}, []float64{0.5, 0.5}, nil, nil))
	for i := 0; i < 10000; i++ {
		var xs [][]float64
		xs, err = nm.Ask()
		if err != nil {
			break
		}
		costs := make([]float64, len(xs))
		for k, x := range xs {
			costs[k] = optimisertest.Sphere(x)
		}
		require.NoError(t, nm.Tell(costs))
	}
	assert.ErrorIs(t, err, optimization.ErrSearchComplete)
}

func TestValidation(t *testing.T) {
	nm := New()
	_, err := nm.Ask()
	assert.Error(t, err)

	require.NoError(t, nm.Init([]float64{0}, []float64{1}, nil, nil))
	assert.Error(t, nm.Tell([]float64{1}), "tell before ask")

	_, err = nm.Ask()
	require.NoError(t, err)
	assert.ErrorIs(t, nm.Tell([]float64{1}), optimization.ErrDimensionMismatch)
	assert.ErrorIs(t, nm.Init([]float64{0}, []float64{0}, nil, nil), optimization.ErrInvalidConfig)
}
