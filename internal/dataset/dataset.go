// Package dataset provides immutable, index-aligned observation signals.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Well-known signal names
const (
	Time    = "Time [s]"
	Current = "Current function [A]"
	Voltage = "Voltage [V]"
)

var (
	// ErrMissingSignal is returned when a requested signal is not present.
	ErrMissingSignal = errors.New("missing signal")

	// ErrInvalidDataset is returned when signals are empty, misaligned or
	// the time axis is not strictly increasing.
	ErrInvalidDataset = errors.New("invalid dataset")
)

// Dataset is a read-only collection of equally long signals sharing a time axis
type Dataset struct {
	signals map[string][]float64
	names   []string
	length  int
}

// New validates and copies the given signals. A strictly increasing
// "Time [s]" signal is required.
func New(signals map[string][]float64) (*Dataset, error) {
	if len(signals) == 0 {
		return nil, fmt.Errorf("%w: no signals", ErrInvalidDataset)
	}

	t, ok := signals[Time]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingSignal, Time)
	}
	n := len(t)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty time axis", ErrInvalidDataset)
	}
	for i := 1; i < n; i++ {
		if !(t[i] > t[i-1]) {
			return nil, fmt.Errorf("%w: time axis not strictly increasing at index %d", ErrInvalidDataset, i)
		}
	}

	d := &Dataset{
		signals: make(map[string][]float64, len(signals)),
		names:   make([]string, 0, len(signals)),
		length:  n,
	}
	for name, values := range signals {
		if len(values) != n {
			return nil, fmt.Errorf("%w: signal %q has %d samples, time axis has %d", ErrInvalidDataset, name, len(values), n)
		}
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: signal %q has non-finite value at index %d", ErrInvalidDataset, name, i)
			}
		}
		d.signals[name] = append([]float64(nil), values...)
		d.names = append(d.names, name)
	}
	sort.Strings(d.names)

	return d, nil
}

// Len returns the number of samples per signal
func (d *Dataset) Len() int { return d.length }

// Names returns the signal names in sorted order
func (d *Dataset) Names() []string {
	return append([]string(nil), d.names...)
}

// Has reports whether the dataset contains the named signal
func (d *Dataset) Has(name string) bool {
	_, ok := d.signals[name]
	return ok
}

// Signal returns a copy of the named signal
func (d *Dataset) Signal(name string) ([]float64, error) {
	s, ok := d.signals[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingSignal, name)
	}
	return append([]float64(nil), s...), nil
}

// Time returns a copy of the time axis
func (d *Dataset) Time() []float64 {
	return append([]float64(nil), d.signals[Time]...)
}

// Require checks that every named signal is present
func (d *Dataset) Require(names ...string) error {
	for _, name := range names {
		if !d.Has(name) {
			return fmt.Errorf("%w: %q", ErrMissingSignal, name)
		}
	}
	return nil
}
