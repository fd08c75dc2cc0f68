package parameters

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Set is the ordered list of parameters being fitted. The order is fixed for
// the lifetime of the set and defines the layout of every value vector.
type Set struct {
	params []*Parameter
	index  map[string]int
}

// NewSet creates a set from one or more uniquely named parameters
func NewSet(params ...*Parameter) (*Set, error) {
	if len(params) == 0 {
		return nil, errors.New("parameter set must contain at least one parameter")
	}

	s := &Set{
		params: make([]*Parameter, 0, len(params)),
		index:  make(map[string]int, len(params)),
	}
	for _, p := range params {
		if p == nil {
			return nil, errors.New("parameter set must not contain nil parameters")
		}
		if _, dup := s.index[p.name]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", p.name)
		}
		s.index[p.name] = len(s.params)
		s.params = append(s.params, p)
	}
	return s, nil
}

// Extend returns a new set with extra parameters appended
func (s *Set) Extend(params ...*Parameter) (*Set, error) {
	all := make([]*Parameter, 0, len(s.params)+len(params))
	all = append(all, s.params...)
	all = append(all, params...)
	return NewSet(all...)
}

// Len returns the number of parameters
func (s *Set) Len() int { return len(s.params) }

// At returns the i-th parameter
func (s *Set) At(i int) *Parameter { return s.params[i] }

// Lookup finds a parameter by name
func (s *Set) Lookup(name string) (*Parameter, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.params[i], true
}

// Names returns the parameter names in order
func (s *Set) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.name
	}
	return names
}

// Check verifies that x has one value per parameter
func (s *Set) Check(x []float64) error {
	if len(x) != len(s.params) {
		return fmt.Errorf("%w: got %d values for %d parameters (%s)",
			ErrDimensionMismatch, len(x), len(s.params), strings.Join(s.Names(), ", "))
	}
	return nil
}

// Bounds returns the hard bounds of the set, or nil when no parameter is bounded
func (s *Set) Bounds() *Bounds {
	bounded := false
	lower := make([]float64, len(s.params))
	upper := make([]float64, len(s.params))
	for i, p := range s.params {
		iv, ok := p.Bounds()
		bounded = bounded || ok
		lower[i], upper[i] = iv.Lower, iv.Upper
	}
	if !bounded {
		return nil
	}
	return &Bounds{Lower: lower, Upper: upper}
}

// Sigma0 returns the default per-dimension search scale
func (s *Set) Sigma0() []float64 {
	out := make([]float64, len(s.params))
	for i, p := range s.params {
		out[i] = p.sigma0()
	}
	return out
}

// InitialGuess returns a starting point for the search
func (s *Set) InitialGuess(rng *rand.Rand) []float64 {
	out := make([]float64, len(s.params))
	for i, p := range s.params {
		out[i] = p.initialGuess(rng)
	}
	return out
}

// LogPrior returns the joint log prior density of x. Parameters without a
// prior contribute nothing; values outside hard bounds give -Inf.
func (s *Set) LogPrior(x []float64) (float64, error) {
	if err := s.Check(x); err != nil {
		return 0, err
	}
	total := 0.0
	for i, p := range s.params {
		if iv, ok := p.Bounds(); ok && !iv.Contains(x[i]) {
			return math.Inf(-1), nil
		}
		if p.prior == nil {
			continue
		}
		total += p.prior.LogPDF(x[i])
	}
	return total, nil
}

// Vector binds x to the parameter names
func (s *Set) Vector(x []float64) (Vector, error) {
	if err := s.Check(x); err != nil {
		return Vector{}, err
	}
	return Vector{
		names:  s.Names(),
		values: append([]float64(nil), x...),
	}, nil
}
