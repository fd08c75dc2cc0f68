// Package gradient implements first-order optimisers. Each iteration asks
// for a single point and needs its gradient to propose the next one.
package gradient

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/parameters"
)

// walker holds what every first-order method shares: the current point,
// the best feasible point so far and the handling of infeasible steps.
type walker struct {
	name   string
	x      []float64
	sigma0 []float64
	bounds *parameters.Bounds

	best     []float64
	bestCost float64
}

func (w *walker) init(x0, sigma0 []float64, bounds *parameters.Bounds) error {
	if err := optimization.ValidateStart(x0, sigma0, bounds); err != nil {
		return err
	}
	w.x = append([]float64(nil), x0...)
	w.sigma0 = append([]float64(nil), sigma0...)
	w.bounds = bounds
	w.best = nil
	w.bestCost = math.Inf(1)
	return nil
}

func (w *walker) ask() ([][]float64, error) {
	if w.x == nil {
		return nil, optimization.NewError("ask before init").WithComponent(w.name).WithOperation("ask")
	}
	return [][]float64{append([]float64(nil), w.x...)}, nil
}

// receive validates a tell and returns the gradient at the current point.
// When the point was infeasible the walker retreats halfway towards the
// best point and ok is false.
func (w *walker) receive(costs []float64, gradients [][]float64) (g []float64, ok bool, err error) {
	if len(costs) != 1 || len(gradients) != 1 {
		return nil, false, optimization.WrapErrorf(optimization.ErrDimensionMismatch,
			"expected one cost and gradient, got %d and %d", len(costs), len(gradients)).WithComponent(w.name).WithOperation("tell")
	}

	c, g := costs[0], gradients[0]
	if math.IsInf(c, 0) || math.IsNaN(c) || g == nil || floats.HasNaN(g) {
		if w.best == nil {
			return nil, false, optimization.WrapError(optimization.ErrOptimiserFailure,
				"no feasible point to retreat to").WithComponent(w.name).WithOperation("tell")
		}
		for i := range w.x {
			w.x[i] = w.best[i] + 0.5*(w.x[i]-w.best[i])
		}
		return nil, false, nil
	}
	if len(g) != len(w.x) {
		return nil, false, optimization.WrapErrorf(optimization.ErrDimensionMismatch,
			"gradient has %d entries for %d dimensions", len(g), len(w.x)).WithComponent(w.name).WithOperation("tell")
	}

	if c < w.bestCost {
		w.bestCost = c
		w.best = append(w.best[:0], w.x...)
	}
	return g, true, nil
}

func (w *walker) tellWithoutGradient() error {
	return optimization.WrapError(optimization.ErrInvalidConfig, "gradients are required").WithComponent(w.name).WithOperation("tell")
}

// Descent is fixed-step gradient descent: x ← x - η∇f
type Descent struct {
	walker
	// LearningRate overrides the default step of min(sigma0)
	LearningRate float64
	eta          float64
}

// NewDescent creates a gradient descent optimiser
func NewDescent() *Descent {
	return &Descent{walker: walker{name: "gradient-descent"}}
}

// Name implements optimization.Optimiser
func (d *Descent) Name() string { return d.name }

// Init implements optimization.Optimiser
func (d *Descent) Init(x0, sigma0 []float64, bounds *parameters.Bounds, _ *rand.Rand) error {
	if err := d.init(x0, sigma0, bounds); err != nil {
		return err
	}
	d.eta = d.LearningRate
	if d.eta <= 0 {
		d.eta = floats.Min(sigma0)
	}
	return nil
}

// Ask implements optimization.Optimiser
func (d *Descent) Ask() ([][]float64, error) { return d.ask() }

// Tell implements optimization.Optimiser
func (d *Descent) Tell([]float64) error { return d.tellWithoutGradient() }

// TellWithGradient implements optimization.GradientOptimiser
func (d *Descent) TellWithGradient(costs []float64, gradients [][]float64) error {
	g, ok, err := d.receive(costs, gradients)
	if err != nil || !ok {
		return err
	}
	floats.AddScaled(d.x, -d.eta, g)
	return nil
}

// Adam is the adaptive moment estimation method with bias-corrected first
// and second moments.
type Adam struct {
	walker
	Beta1, Beta2, Epsilon float64

	alpha    float64
	m, v     []float64
	b1t, b2t float64
}

// NewAdam creates an Adam optimiser with β1 = 0.9, β2 = 0.999 and ε = 1e-8
func NewAdam() *Adam {
	return &Adam{
		walker:  walker{name: "adam"},
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
	}
}

// Name implements optimization.Optimiser
func (a *Adam) Name() string { return a.name }

// Init implements optimization.Optimiser
func (a *Adam) Init(x0, sigma0 []float64, bounds *parameters.Bounds, _ *rand.Rand) error {
	if err := a.init(x0, sigma0, bounds); err != nil {
		return err
	}
	a.alpha = floats.Min(sigma0)
	a.m = make([]float64, len(x0))
	a.v = make([]float64, len(x0))
	a.b1t, a.b2t = 1, 1
	return nil
}

// Ask implements optimization.Optimiser
func (a *Adam) Ask() ([][]float64, error) { return a.ask() }

// Tell implements optimization.Optimiser
func (a *Adam) Tell([]float64) error { return a.tellWithoutGradient() }

// TellWithGradient implements optimization.GradientOptimiser
func (a *Adam) TellWithGradient(costs []float64, gradients [][]float64) error {
	g, ok, err := a.receive(costs, gradients)
	if err != nil || !ok {
		return err
	}

	a.b1t *= a.Beta1
	a.b2t *= a.Beta2
	eta := a.alpha * math.Sqrt(1-a.b2t) / (1 - a.b1t)
	for i, gi := range g {
		a.m[i] = a.Beta1*a.m[i] + (1-a.Beta1)*gi
		a.v[i] = a.Beta2*a.v[i] + (1-a.Beta2)*gi*gi
		a.x[i] -= eta * a.m[i] / (math.Sqrt(a.v[i]) + a.Epsilon)
	}
	return nil
}

// IRPropMin is improved resilient backpropagation without weight
// backtracking. Only the sign of the gradient is used; each dimension keeps
// its own step, grown by EtaPlus while the sign holds and shrunk by
// EtaMinus when it flips.
type IRPropMin struct {
	walker
	EtaPlus, EtaMinus float64

	step     []float64
	stepMin  float64
	previous []float64
}

// NewIRPropMin creates an iRprop- optimiser
func NewIRPropMin() *IRPropMin {
	return &IRPropMin{
		walker:   walker{name: "irprop-min"},
		EtaPlus:  1.2,
		EtaMinus: 0.5,
	}
}

// Name implements optimization.Optimiser
func (r *IRPropMin) Name() string { return r.name }

// Init implements optimization.Optimiser
func (r *IRPropMin) Init(x0, sigma0 []float64, bounds *parameters.Bounds, _ *rand.Rand) error {
	if err := r.init(x0, sigma0, bounds); err != nil {
		return err
	}
	r.step = append([]float64(nil), sigma0...)
	r.stepMin = 1e-3 * floats.Min(sigma0)
	r.previous = nil
	return nil
}

// Ask implements optimization.Optimiser
func (r *IRPropMin) Ask() ([][]float64, error) { return r.ask() }

// Tell implements optimization.Optimiser
func (r *IRPropMin) Tell([]float64) error { return r.tellWithoutGradient() }

// TellWithGradient implements optimization.GradientOptimiser
func (r *IRPropMin) TellWithGradient(costs []float64, gradients [][]float64) error {
	g, ok, err := r.receive(costs, gradients)
	if err != nil || !ok {
		return err
	}
	g = append([]float64(nil), g...)

	if r.previous != nil {
		for i := range g {
			switch p := g[i] * r.previous[i]; {
			case p > 0:
				r.step[i] *= r.EtaPlus
			case p < 0:
				r.step[i] *= r.EtaMinus
				g[i] = 0
			}
			r.step[i] = math.Max(r.step[i], r.stepMin)
		}
	}
	r.previous = g

	for i := range r.x {
		switch {
		case g[i] > 0:
			r.x[i] -= r.step[i]
		case g[i] < 0:
			r.x[i] += r.step[i]
		}
	}
	if r.bounds != nil {
		r.x = r.bounds.Clip(r.x)
	}
	return nil
}
