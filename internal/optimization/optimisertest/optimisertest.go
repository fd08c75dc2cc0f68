// Package optimisertest provides objectives and helpers shared by the
// optimiser backend tests.
package optimisertest

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cellfit/internal/cost"
	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// Quadratic is Σ (x_i - Centre_i)², optionally bounded
type Quadratic struct {
	Centre []float64
	params *parameters.Set
}

// NewQuadratic returns a quadratic bowl around centre. When lower and upper
// are given every dimension is bounded by them.
func NewQuadratic(t testing.TB, centre []float64, bounds ...float64) *Quadratic {
	t.Helper()
	params := make([]*parameters.Parameter, len(centre))
	for i := range centre {
		prior, err := parameters.NewGaussian(0, 1)
		require.NoError(t, err)
		var opts []parameters.Option
		if len(bounds) == 2 {
			opts = append(opts, parameters.WithBounds(bounds[0], bounds[1]))
		}
		p, err := parameters.New(string(rune('a'+i)), prior, opts...)
		require.NoError(t, err)
		params[i] = p
	}
	set, err := parameters.NewSet(params...)
	require.NoError(t, err)
	return &Quadratic{Centre: append([]float64(nil), centre...), params: set}
}

// Parameters implements cost.Function
func (q *Quadratic) Parameters() *parameters.Set { return q.params }

// Evaluate implements cost.Function
func (q *Quadratic) Evaluate(_ context.Context, x []float64) (cost.Evaluation, error) {
	if err := q.params.Check(x); err != nil {
		return cost.Evaluation{}, err
	}
	sum := 0.0
	for i, v := range x {
		d := v - q.Centre[i]
		sum += d * d
	}
	return cost.Evaluation{Cost: sum, Feasible: true}, nil
}

// EvaluateWithGradient implements cost.GradientFunction
func (q *Quadratic) EvaluateWithGradient(ctx context.Context, x []float64) (cost.Evaluation, error) {
	ev, err := q.Evaluate(ctx, x)
	if err != nil {
		return ev, err
	}
	ev.Gradient = make([]float64, len(x))
	for i, v := range x {
		ev.Gradient[i] = 2 * (v - q.Centre[i])
	}
	return ev, nil
}

// Rosenbrock is the two dimensional banana function with minimum at (1, 1)
func Rosenbrock(x []float64) float64 {
	a := 1 - x[0]
	b := x[1] - x[0]*x[0]
	return a*a + 100*b*b
}

// Minimise drives opt directly through ask and tell for at most iterations
// rounds and returns the best point seen and its cost. Candidates outside
// bounds are told +Inf.
func Minimise(t testing.TB, opt optimization.Optimiser, f func([]float64) float64, x0, sigma0 []float64, bounds *parameters.Bounds, iterations int) ([]float64, float64) {
	t.Helper()
	require.NoError(t, opt.Init(x0, sigma0, bounds, rand.New(rand.NewSource(1))))

	best, bestCost := append([]float64(nil), x0...), f(x0)
	for i := 0; i < iterations; i++ {
		candidates, err := opt.Ask()
		if errors.Is(err, optimization.ErrSearchComplete) {
			break
		}
		require.NoError(t, err)

		costs := make([]float64, len(candidates))
		gradients := make([][]float64, len(candidates))
		for j, x := range candidates {
			if !bounds.Contains(x) {
				costs[j] = math.Inf(1)
				continue
			}
			costs[j] = f(x)
			gradients[j] = Gradient(f, x)
			if costs[j] < bestCost {
				best, bestCost = append([]float64(nil), x...), costs[j]
			}
		}

		if g, ok := opt.(optimization.GradientOptimiser); ok {
			require.NoError(t, g.TellWithGradient(costs, gradients))
		} else {
			require.NoError(t, opt.Tell(costs))
		}
	}
	return best, bestCost
}

// Gradient approximates the gradient of f at x by central differences
func Gradient(f func([]float64) float64, x []float64) []float64 {
	const h = 1e-6
	grad := make([]float64, len(x))
	y := append([]float64(nil), x...)
	for i := range x {
		y[i] = x[i] + h
		up := f(y)
		y[i] = x[i] - h
		down := f(y)
		y[i] = x[i]
		grad[i] = (up - down) / (2 * h)
	}
	return grad
}

// Sphere is Σ x_i²
func Sphere(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum
}

// AssertClose checks that got is within tol of want in every coordinate
func AssertClose(t testing.TB, want, got []float64, tol float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}
