package acquisition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedImprovement(t *testing.T) {
	tests := []struct {
		name          string
		bestObserved  float64
		xi            float64
		mu            float64
		sigma         float64
		expectedValue float64
	}{
		{
			name:          "no improvement",
			bestObserved:  1.0,
			xi:            0.01,
			mu:            1.5,
			sigma:         0.0,
			expectedValue: 0.0,
		},
		{
			name:          "definite improvement",
			bestObserved:  1.0,
			xi:            0.01,
			mu:            0.5,
			sigma:         0.2,
			expectedValue: 0.4905,
		},
		{
			name:          "zero sigma",
			bestObserved:  1.0,
			xi:            0.0,
			mu:            0.5,
			sigma:         0.0,
			expectedValue: 0.5,
		},
		{
			name:          "uncertain worse point",
			bestObserved:  1.0,
			xi:            0.0,
			mu:            1.0,
			sigma:         1.0,
			expectedValue: 1 / math.Sqrt(2*math.Pi),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ei := NewExpectedImprovement(tt.bestObserved, tt.xi)
			assert.InDelta(t, tt.expectedValue, ei.Compute(tt.mu, tt.sigma), 1e-4)
		})
	}
}

func TestExpectedImprovementUpdate(t *testing.T) {
	ei := NewExpectedImprovement(1.0, 0.01)
	assert.Equal(t, 1.0, ei.BestObserved())

	ei.UpdateBest(0.5)
	assert.Equal(t, 0.5, ei.BestObserved())

	ei.SetXi(0.01)
	assert.Greater(t, ei.Compute(0.4, 0.1), 0.0)
	assert.Greater(t, ei.Compute(0.4, 0.1), ei.Compute(0.45, 0.1), "lower mean scores higher")
	assert.Greater(t, ei.Compute(0.6, 0.3), ei.Compute(0.6, 0.1), "more uncertainty scores higher")
}

func TestExpectedImprovementGradient(t *testing.T) {
	tests := []struct {
		name   string
		mu     float64
		sigma  float64
		dmu    float64
		dsigma float64
	}{
		{"both directions", 0.5, 0.5, 1.0, 1.0},
		{"mean only", 0.8, 0.2, 1.0, 0.0},
		{"sigma only", 1.2, 0.3, 0.0, 1.0},
	}

	const h = 1e-6
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ei := NewExpectedImprovement(1.0, 0.01)
			f := func(eps float64) float64 {
				return ei.Compute(tt.mu+eps*tt.dmu, tt.sigma+eps*tt.dsigma)
			}
			numerical := (f(h) - f(-h)) / (2 * h)
			assert.InDelta(t, numerical, ei.Gradient(tt.mu, tt.dmu, tt.sigma, tt.dsigma), 1e-6)
		})
	}
}

func TestNew(t *testing.T) {
	f, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &ExpectedImprovement{}, f)

	f, err = New("lcb")
	require.NoError(t, err)
	f.UpdateBest(3)
	assert.Equal(t, -(1.0 - 2*0.5), f.Compute(1, 0.5))

	_, err = New("pi")
	assert.Error(t, err)
}
