package evolution

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/optimization/optimisertest"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

func shifted(x []float64) float64 {
	centre := []float64{1, -2, 0.5}
	sum := 0.0
	for i := range x {
		d := x[i] - centre[i]
		sum += d * d
	}
	return sum
}

func TestMinimiseQuadratic(t *testing.T) {
	pso := NewPSO()
	pso.PopulationSize = 20

	tests := []struct {
		opt   optimization.Optimiser
		iters int
		tol   float64
	}{
		{NewCMAES(), 300, 1e-4},
		{NewXNES(), 600, 1e-3},
		{NewSNES(), 600, 1e-3},
		{pso, 400, 1e-2},
	}

	for _, tt := range tests {
		t.Run(tt.opt.Name(), func(t *testing.T) {
			best, cost := optimisertest.Minimise(t, tt.opt, shifted,
				[]float64{0, 0, 0}, []float64{1, 1, 1}, nil, tt.iters)
			optimisertest.AssertClose(t, []float64{1, -2, 0.5}, best, tt.tol)
			assert.Less(t, cost, tt.tol*tt.tol*3)
		})
	}
}

func TestCMAESRosenbrock(t *testing.T) {
	best, _ := optimisertest.Minimise(t, NewCMAES(), optimisertest.Rosenbrock,
		[]float64{-1, 1.5}, []float64{0.5, 0.5}, nil, 1000)
	optimisertest.AssertClose(t, []float64{1, 1}, best, 1e-3)
}

func TestCMAESSearchComplete(t *testing.T) {
	c := NewCMAES()
	c.TolX = 1e-6
	require.NoError(t, c.Init([]float64{0, 0}, []float64{1, 1}, nil, rand.New(rand.NewSource(3))))

	var err error
	for i := 0; i < 2000 && err == nil; i++ {
		var xs [][]float64
		xs, err = c.Ask()
		if err != nil {
			break
		}
		costs := make([]float64, len(xs))
		for k, x := range xs {
			costs[k] = optimisertest.Sphere(x)
		}
		require.NoError(t, c.Tell(costs))
	}
	assert.ErrorIs(t, err, optimization.ErrSearchComplete)
	optimisertest.AssertClose(t, []float64{0, 0}, c.Mean(), 1e-4)
}

func TestCMAESFailsOnBrokenCovariance(t *testing.T) {
	c := NewCMAES()
	require.NoError(t, c.Init([]float64{0, 0}, []float64{1, 1}, nil, rand.New(rand.NewSource(1))))
	xs, err := c.Ask()
	require.NoError(t, err)

	c.cov.SetSym(0, 0, math.NaN())
	err = c.decompose()
	assert.ErrorIs(t, err, optimization.ErrOptimiserFailure)

	c.cov.SetSym(0, 0, -4)
	err = c.decompose()
	assert.ErrorIs(t, err, optimization.ErrOptimiserFailure)
	assert.Len(t, xs, optimization.DefaultPopulationSize(2))
}

func TestSeededRunsAreReproducible(t *testing.T) {
	for _, factory := range []func() optimization.Optimiser{
		func() optimization.Optimiser { return NewCMAES() },
		func() optimization.Optimiser { return NewXNES() },
		func() optimization.Optimiser { return NewSNES() },
		func() optimization.Optimiser { return NewPSO() },
	} {
		run := func() [][]float64 {
			opt := factory()
			require.NoError(t, opt.Init([]float64{1, 2}, []float64{0.5, 0.5}, nil, rand.New(rand.NewSource(9))))
			xs, err := opt.Ask()
			require.NoError(t, err)
			costs := make([]float64, len(xs))
			for k, x := range xs {
				costs[k] = optimisertest.Sphere(x)
			}
			require.NoError(t, opt.Tell(costs))
			xs, err = opt.Ask()
			require.NoError(t, err)
			return xs
		}
		assert.Equal(t, run(), run(), factory().Name())
	}
}

func TestTellValidation(t *testing.T) {
	for _, opt := range []optimization.Optimiser{NewCMAES(), NewXNES(), NewSNES(), NewPSO()} {
		t.Run(opt.Name(), func(t *testing.T) {
			_, err := opt.Ask()
			assert.Error(t, err)

			require.NoError(t, opt.Init([]float64{0}, []float64{1}, nil, rand.New(rand.NewSource(1))))
			assert.Error(t, opt.Tell([]float64{1}), "tell before ask")

			xs, err := opt.Ask()
			require.NoError(t, err)
			assert.ErrorIs(t, opt.Tell(make([]float64, len(xs)+1)), optimization.ErrDimensionMismatch)
		})
	}
}

func TestInitValidation(t *testing.T) {
	bounds, err := parameters.NewBounds([]float64{0}, []float64{1})
	require.NoError(t, err)

	c := NewCMAES()
	assert.ErrorIs(t, c.Init([]float64{2}, []float64{1}, bounds, nil), optimization.ErrInvalidConfig)
	assert.ErrorIs(t, c.Init([]float64{0.5, 1}, []float64{1}, nil, nil), optimization.ErrDimensionMismatch)

	c.PopulationSize = 1
	assert.ErrorIs(t, c.Init([]float64{0.5}, []float64{1}, nil, nil), optimization.ErrInvalidConfig)
}

func TestPSOStartsInsideFiniteBounds(t *testing.T) {
	bounds, err := parameters.NewBounds([]float64{-1, -1}, []float64{1, 1})
	require.NoError(t, err)
	p := NewPSO()
	p.PopulationSize = 30
	require.NoError(t, p.Init([]float64{0.2, 0.3}, []float64{5, 5}, bounds, rand.New(rand.NewSource(2))))

	xs, err := p.Ask()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.3}, xs[0])
	for _, x := range xs {
		assert.True(t, bounds.Contains(x))
	}
}

func TestRankAndUtilities(t *testing.T) {
	assert.Equal(t, []int{2, 0, 3, 1, 4}, rank([]float64{1, math.NaN(), 0, 1, math.Inf(1)}))

	u := utilities(6)
	sum := 0.0
	for k, v := range u {
		sum += v
		if k > 0 {
			assert.LessOrEqual(t, v, u[k-1])
		}
	}
	assert.InDelta(t, 0, sum, 1e-12)
}
