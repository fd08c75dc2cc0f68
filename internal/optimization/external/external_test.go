package external

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

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

func TestMinimise(t *testing.T) {
	tests := []struct {
		name  string
		opt   func() optimization.Optimiser
		evals int
		tol   float64
	}{
		{"gonum-nelder-mead", func() optimization.Optimiser { return NewGonumNelderMead(nil) }, 3000, 1e-3},
		{"gonum-cmaes", func() optimization.Optimiser { return NewGonumCMAES(nil) }, 5000, 1e-2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := tt.opt()
			assert.Equal(t, tt.name, opt.Name())
			defer opt.(*Gonum).Close()

			best, _ := optimisertest.Minimise(t, opt, shifted, []float64{0, 0, 0}, []float64{1, 1, 1}, nil, tt.evals)
			optimisertest.AssertClose(t, []float64{1, -2, 0.5}, best, tt.tol)
		})
	}
}

func TestMayflyMinimisesInsideBounds(t *testing.T) {
	bounds, err := parameters.NewBounds([]float64{-5, -5}, []float64{5, 5})
	require.NoError(t, err)

	m := NewMayfly(nil)
	defer m.Close()
	best, cost := optimisertest.Minimise(t, m, optimisertest.Sphere, []float64{3, 3}, []float64{1, 1}, bounds, 8000)
	assert.Less(t, cost, 0.1)
	optimisertest.AssertClose(t, []float64{0, 0}, best, 0.5)
}

func TestMayflyRescalesCandidates(t *testing.T) {
	bounds, err := parameters.NewBounds([]float64{10, -1}, []float64{20, 1})
	require.NoError(t, err)

	m := NewMayfly(nil)
	require.NoError(t, m.Init([]float64{15, 0}, []float64{1, 1}, bounds, rand.New(rand.NewSource(4))))
	defer m.Close()

	for i := 0; i < 50; i++ {
		xs, err := m.Ask()
		require.NoError(t, err)
		require.Len(t, xs, 1)
		assert.True(t, bounds.Contains(xs[0]), "%v outside the bounds", xs[0])
		require.NoError(t, m.Tell([]float64{optimisertest.Sphere(xs[0])}))
	}
}

func TestNelderMeadStartsAtInitialGuess(t *testing.T) {
	g := NewGonumNelderMead(nil)
	require.NoError(t, g.Init([]float64{0.3, 0.4}, []float64{0.1, 0.1}, nil, nil))
	defer g.Close()

	xs, err := g.Ask()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.3, 0.4}}, xs)
	require.NoError(t, g.Tell([]float64{1}))

	xs, err = g.Ask()
	require.NoError(t, err)
	assert.InDelta(t, 0.1, floats.Distance(xs[0], []float64{0.3, 0.4}, 1), 1e-12, "simplex steps by the mean sigma0")
}

func TestSearchCompletes(t *testing.T) {
	g := NewGonumNelderMead(nil)
	require.NoError(t, g.Init([]float64{1}, []float64{0.5}, nil, nil))
	defer g.Close()

	var err error
	for i := 0; i < 10000; i++ {
		var xs [][]float64
		xs, err = g.Ask()
		if err != nil {
			break
		}
		require.Len(t, xs, 1)
		require.NoError(t, g.Tell([]float64{7}))
	}
	assert.ErrorIs(t, err, optimization.ErrSearchComplete, "a flat objective converges")
}

func TestCloseStopsLibrary(t *testing.T) {
	for _, opt := range []interface {
		optimization.Optimiser
		Close() error
	}{NewGonumNelderMead(nil), NewGonumCMAES(nil), NewMayfly(nil)} {
		t.Run(opt.Name(), func(t *testing.T) {
			require.NoError(t, opt.Close(), "close before init")
			require.NoError(t, opt.Init([]float64{0, 0}, []float64{1, 1}, nil, rand.New(rand.NewSource(1))))

			xs, err := opt.Ask()
			require.NoError(t, err)
			require.Len(t, xs, 1)

			closed := make(chan error, 1)
			go func() { closed <- opt.Close() }()
			select {
			case err := <-closed:
				require.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("library goroutine did not stop")
			}

			_, err = opt.Ask()
			assert.ErrorIs(t, err, optimization.ErrSearchComplete)
			require.NoError(t, opt.Close(), "close twice")
		})
	}
}

func TestSeededRunsAreReproducible(t *testing.T) {
	for _, factory := range []func() *Gonum{
		func() *Gonum { return NewGonumCMAES(nil) },
		func() *Gonum { return NewGonumNelderMead(nil) },
	} {
		run := func(seed int64) [][]float64 {
			g := factory()
			defer g.Close()
			require.NoError(t, g.Init([]float64{1, 2}, []float64{0.5, 0.5}, nil, rand.New(rand.NewSource(seed))))

			var asked [][]float64
			for i := 0; i < 12; i++ {
				xs, err := g.Ask()
				require.NoError(t, err)
				asked = append(asked, xs...)
				require.NoError(t, g.Tell([]float64{optimisertest.Sphere(xs[0])}))
			}
			return asked
		}
		name := factory().Name()
		assert.Equal(t, run(11), run(11), name)
		if name == "gonum-cmaes" {
			assert.NotEqual(t, run(11), run(12), "the seed drives the samples")
		}
	}
}

func TestInitRestarts(t *testing.T) {
	g := NewGonumNelderMead(nil)
	require.NoError(t, g.Init([]float64{1, 1}, []float64{1, 1}, nil, nil))
	_, err := g.Ask()
	require.NoError(t, err)

	require.NoError(t, g.Init([]float64{5, 5}, []float64{1, 1}, nil, nil))
	defer g.Close()
	xs, err := g.Ask()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{5, 5}}, xs)
}

func TestBridgeValidation(t *testing.T) {
	g := NewGonumNelderMead(nil)
	_, err := g.Ask()
	assert.Error(t, err, "ask before init")

	assert.ErrorIs(t, g.Init([]float64{0}, []float64{1, 1}, nil, nil), optimization.ErrDimensionMismatch)

	require.NoError(t, g.Init([]float64{0}, []float64{1}, nil, nil))
	defer g.Close()
	assert.Error(t, g.Tell([]float64{1}), "tell before ask")

	_, err = g.Ask()
	require.NoError(t, err)
	_, err = g.Ask()
	assert.Error(t, err, "ask twice")
	assert.ErrorIs(t, g.Tell([]float64{1, 2}), optimization.ErrDimensionMismatch)
	require.NoError(t, g.Tell([]float64{1}))
}

func TestLibraryFailureIsReported(t *testing.T) {
	b := newBridge("broken", nil)
	b.start(func() error { return errors.New("boom") })
	defer b.Close()

	_, err := b.Ask()
	assert.ErrorIs(t, err, optimization.ErrOptimiserFailure)
	assert.Contains(t, err.Error(), "boom")

	b.start(func() error { panic("kaboom") })
	_, err = b.Ask()
	assert.ErrorIs(t, err, optimization.ErrOptimiserFailure)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestBridgePassesCosts(t *testing.T) {
	b := newBridge("echo", nil)
	got := make(chan float64, 1)
	b.start(func() error {
		got <- b.objective([]float64{1, 2})
		return nil
	})
	defer b.Close()

	xs, err := b.Ask()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}}, xs)
	require.NoError(t, b.Tell([]float64{42}))
	assert.Equal(t, 42.0, <-got)

	_, err = b.Ask()
	assert.ErrorIs(t, err, optimization.ErrSearchComplete)
}
