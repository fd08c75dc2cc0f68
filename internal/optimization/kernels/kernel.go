// Package kernels provides covariance functions for Gaussian process
// surrogates.
package kernels

import (
	"fmt"
	"math"
	"sort"
)

// Kernel represents a kernel function for Gaussian Processes
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns length scale and signal variance
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters
	SetHyperparameters(params []float64) error
}

// stationary holds the hyperparameters shared by the isotropic kernels
type stationary struct {
	lengthScale float64
	signalVar   float64
}

func newStationary(lengthScale, signalVar float64) (stationary, error) {
	s := stationary{}
	if err := s.SetHyperparameters([]float64{lengthScale, signalVar}); err != nil {
		return s, err
	}
	return s, nil
}

// Hyperparameters returns the current hyperparameters
func (s *stationary) Hyperparameters() []float64 {
	return []float64{s.lengthScale, s.signalVar}
}

// SetHyperparameters sets the kernel's hyperparameters
func (s *stationary) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if !(params[0] > 0) || !(params[1] > 0) || math.IsInf(params[0], 0) || math.IsInf(params[1], 0) {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	s.lengthScale = params[0]
	s.signalVar = params[1]
	return nil
}

// distance returns |x1 - x2| / lengthScale
func (s *stationary) distance(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq) / s.lengthScale
}

// RBFKernel is the squared exponential kernel
type RBFKernel struct {
	stationary
}

// NewRBFKernel creates a new RBF kernel with the given parameters
func NewRBFKernel(lengthScale, signalVar float64) (*RBFKernel, error) {
	s, err := newStationary(lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &RBFKernel{s}, nil
}

// Eval computes the RBF kernel value between x1 and x2
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	r := k.distance(x1, x2)
	return k.signalVar * math.Exp(-0.5*r*r)
}

// Matern52Kernel implements the Matérn 5/2 kernel
type Matern52Kernel struct {
	stationary
}

// NewMatern52Kernel creates a new Matérn 5/2 kernel with the given parameters
func NewMatern52Kernel(lengthScale, signalVar float64) (*Matern52Kernel, error) {
	s, err := newStationary(lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &Matern52Kernel{s}, nil
}

// Eval computes the Matérn 5/2 kernel value between x1 and x2
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := k.distance(x1, x2)
	polyTerm := 1.0 + math.Sqrt(5)*r + (5.0/3.0)*r*r
	return k.signalVar * polyTerm * math.Exp(-math.Sqrt(5)*r)
}

var registry = map[string]func(lengthScale, signalVar float64) (Kernel, error){
	"rbf":      func(l, s float64) (Kernel, error) { return NewRBFKernel(l, s) },
	"matern52": func(l, s float64) (Kernel, error) { return NewMatern52Kernel(l, s) },
}

// New builds a kernel by name
func New(name string, lengthScale, signalVar float64) (Kernel, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown kernel %q (available: %v)", name, Names())
	}
	return build(lengthScale, signalVar)
}

// Names lists the kernels New accepts
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
