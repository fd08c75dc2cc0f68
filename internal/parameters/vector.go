package parameters

import (
	"fmt"
	"strings"
)

// Vector is an immutable assignment of values to named parameters
type Vector struct {
	names  []string
	values []float64
}

// NewVector builds a vector from parallel name and value slices
func NewVector(names []string, values []float64) (Vector, error) {
	if len(names) != len(values) {
		return Vector{}, fmt.Errorf("%w: %d names for %d values", ErrDimensionMismatch, len(names), len(values))
	}
	return Vector{
		names:  append([]string(nil), names...),
		values: append([]float64(nil), values...),
	}, nil
}

// Len returns the number of values
func (v Vector) Len() int { return len(v.values) }

// At returns the i-th value
func (v Vector) At(i int) float64 { return v.values[i] }

// Get returns the value for name
func (v Vector) Get(name string) (float64, bool) {
	for i, n := range v.names {
		if n == name {
			return v.values[i], true
		}
	}
	return 0, false
}

// Values returns a copy of the values in parameter order
func (v Vector) Values() []float64 {
	return append([]float64(nil), v.values...)
}

// Names returns a copy of the parameter names
func (v Vector) Names() []string {
	return append([]string(nil), v.names...)
}

// Map returns the vector as a name to value map
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.names))
	for i, n := range v.names {
		m[n] = v.values[i]
	}
	return m
}

func (v Vector) String() string {
	parts := make([]string, len(v.names))
	for i, n := range v.names {
		parts[i] = fmt.Sprintf("%s=%.6g", n, v.values[i])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
