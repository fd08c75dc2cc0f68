package parameters

import (
	"fmt"
	"math"
	"math/rand"
)

// Bounds are per-dimension hard limits. Unbounded dimensions hold ±Inf.
type Bounds struct {
	Lower []float64
	Upper []float64
}

// NewBounds validates and copies lower and upper limits
func NewBounds(lower, upper []float64) (*Bounds, error) {
	if len(lower) != len(upper) {
		return nil, fmt.Errorf("%w: %d lower bounds for %d upper bounds", ErrDimensionMismatch, len(lower), len(upper))
	}
	for i := range lower {
		if math.IsNaN(lower[i]) || math.IsNaN(upper[i]) || lower[i] > upper[i] {
			return nil, fmt.Errorf("%w: dimension %d has [%v, %v]", ErrInvalidBounds, i, lower[i], upper[i])
		}
	}
	return &Bounds{
		Lower: append([]float64(nil), lower...),
		Upper: append([]float64(nil), upper...),
	}, nil
}

// Dim returns the number of dimensions
func (b *Bounds) Dim() int { return len(b.Lower) }

// Contains reports whether x lies inside the bounds
func (b *Bounds) Contains(x []float64) bool {
	if b == nil {
		return true
	}
	for i, v := range x {
		if v < b.Lower[i] || v > b.Upper[i] || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Clip returns a copy of x projected onto the bounds
func (b *Bounds) Clip(x []float64) []float64 {
	out := append([]float64(nil), x...)
	if b == nil {
		return out
	}
	for i := range out {
		out[i] = math.Max(b.Lower[i], math.Min(out[i], b.Upper[i]))
	}
	return out
}

// Resample returns a copy of x in which every out-of-bounds coordinate is
// replaced by a uniform draw inside its bounds. Coordinates with an infinite
// side are clipped instead.
func (b *Bounds) Resample(x []float64, rng *rand.Rand) []float64 {
	out := append([]float64(nil), x...)
	if b == nil {
		return out
	}
	for i, v := range out {
		lo, hi := b.Lower[i], b.Upper[i]
		if v >= lo && v <= hi {
			continue
		}
		if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			out[i] = math.Max(lo, math.Min(v, hi))
			continue
		}
		out[i] = lo + rng.Float64()*(hi-lo)
	}
	return out
}

// Finite reports whether every dimension has finite limits on both sides
func (b *Bounds) Finite() bool {
	if b == nil {
		return false
	}
	for i := range b.Lower {
		if math.IsInf(b.Lower[i], 0) || math.IsInf(b.Upper[i], 0) {
			return false
		}
	}
	return true
}

// SearchBox returns the lower corner and widths of a finite box for
// samplers that need one: the bounds where they are finite, x0 ± 3 sigma0
// elsewhere.
func SearchBox(x0, sigma0 []float64, bounds *Bounds) (lower, width []float64) {
	lower = make([]float64, len(x0))
	width = make([]float64, len(x0))
	for i := range x0 {
		lo, hi := x0[i]-3*sigma0[i], x0[i]+3*sigma0[i]
		if bounds != nil {
			if !math.IsInf(bounds.Lower[i], 0) {
				lo = bounds.Lower[i]
			}
			if !math.IsInf(bounds.Upper[i], 0) {
				hi = bounds.Upper[i]
			}
		}
		if hi <= lo {
			hi = lo + sigma0[i]
		}
		lower[i], width[i] = lo, hi-lo
	}
	return lower, width
}
