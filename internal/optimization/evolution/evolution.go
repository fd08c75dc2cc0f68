// Package evolution implements population based optimisers: CMA-ES,
// exponential and separable natural evolution strategies, and particle
// swarm optimisation.
package evolution

import (
	"math"
	"math/rand"
	"sort"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// population holds what every population method shares
type population struct {
	name   string
	size   int
	n      int
	rng    *rand.Rand
	bounds *parameters.Bounds
	asked  [][]float64
}

func (p *population) init(x0, sigma0 []float64, bounds *parameters.Bounds, rng *rand.Rand, requested int) error {
	if err := optimization.ValidateStart(x0, sigma0, bounds); err != nil {
		return optimization.WrapError(err, "init").WithComponent(p.name)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	p.n = len(x0)
	p.size = requested
	if p.size <= 0 {
		p.size = optimization.DefaultPopulationSize(p.n)
	}
	if p.size < 2 {
		return optimization.WrapErrorf(optimization.ErrInvalidConfig, "population size %d is below 2", p.size).WithComponent(p.name).WithOperation("init")
	}
	p.rng = rng
	p.bounds = bounds
	p.asked = nil
	return nil
}

// checkTell validates the costs of the last asked population
func (p *population) checkTell(costs []float64) error {
	if p.asked == nil {
		return optimization.NewError("tell before ask").WithComponent(p.name).WithOperation("tell")
	}
	if len(costs) != len(p.asked) {
		return optimization.WrapErrorf(optimization.ErrDimensionMismatch,
			"%d costs for %d candidates", len(costs), len(p.asked)).WithComponent(p.name).WithOperation("tell")
	}
	return nil
}

func (p *population) failure(format string, args ...interface{}) *optimization.Error {
	return optimization.WrapErrorf(optimization.ErrOptimiserFailure, format, args...).WithComponent(p.name)
}

// rank returns candidate indices ordered by cost. NaN sorts with +Inf and
// equal costs keep their asked order.
func rank(costs []float64) []int {
	order := make([]int, len(costs))
	for i := range order {
		order[i] = i
	}
	key := func(i int) float64 {
		if math.IsNaN(costs[i]) {
			return math.Inf(1)
		}
		return costs[i]
	}
	sort.SliceStable(order, func(a, b int) bool { return key(order[a]) < key(order[b]) })
	return order
}

// utilities are the rank based fitness shaping weights of the natural
// evolution strategies, summing to zero. Entry k belongs to the k-th best.
func utilities(lambda int) []float64 {
	u := make([]float64, lambda)
	total := 0.0
	for k := range u {
		u[k] = math.Max(0, math.Log(float64(lambda)/2+1)-math.Log(float64(k+1)))
		total += u[k]
	}
	for k := range u {
		u[k] = u[k]/total - 1/float64(lambda)
	}
	return u
}

func normals(rng *rand.Rand, n int) []float64 {
	z := make([]float64, n)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	return z
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func copyAll(xs [][]float64) [][]float64 {
	out := make([][]float64, len(xs))
	for i, x := range xs {
		out[i] = append([]float64(nil), x...)
	}
	return out
}
