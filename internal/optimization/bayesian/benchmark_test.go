package bayesian

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/cellfit/internal/optimization/kernels"
	"github.com/copyleftdev/cellfit/internal/optimization/optimisertest"
)

func randomData(rng *rand.Rand, nSamples, nFeatures int) (*mat.Dense, *mat.VecDense) {
	X := mat.NewDense(nSamples, nFeatures, nil)
	y := mat.NewVecDense(nSamples, nil)
	for i := 0; i < nSamples; i++ {
		for j := 0; j < nFeatures; j++ {
			X.Set(i, j, rng.Float64())
		}
		y.SetVec(i, rng.NormFloat64())
	}
	return X, y
}

// BenchmarkGPFit measures fitting cost as the training set grows
func BenchmarkGPFit(b *testing.B) {
	for _, nSamples := range []int{10, 50, 100, 200} {
		b.Run(fmt.Sprintf("samples=%d", nSamples), func(b *testing.B) {
			X, y := randomData(rand.New(rand.NewSource(42)), nSamples, 5)
			kernel, err := kernels.NewMatern52Kernel(0.2, 1)
			require.NoError(b, err)
			gp := NewGP(kernel, 1e-6, nil)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = gp.Fit(X, y)
			}
		})
	}
}

// BenchmarkGPPredict measures a single point prediction, the inner loop of
// the acquisition search
func BenchmarkGPPredict(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	X, y := randomData(rng, 100, 5)
	kernel, err := kernels.NewMatern52Kernel(0.2, 1)
	require.NoError(b, err)
	gp := NewGP(kernel, 1e-6, nil)
	require.NoError(b, gp.Fit(X, y))

	x := mat.NewDense(1, 5, []float64{0.5, 0.5, 0.5, 0.5, 0.5})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = gp.Predict(x)
	}
}

// BenchmarkAsk measures one surrogate-guided proposal after warm-up
func BenchmarkAsk(b *testing.B) {
	bo := New(nil)
	require.NoError(b, bo.Init([]float64{0.5, 0.5}, []float64{0.2, 0.2}, nil, rand.New(rand.NewSource(1))))
	xs, err := bo.Ask()
	require.NoError(b, err)
	costs := make([]float64, len(xs))
	for k, x := range xs {
		costs[k] = optimisertest.Sphere(x)
	}
	require.NoError(b, bo.Tell(costs))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		xs, err := bo.Ask()
		require.NoError(b, err)
		require.NoError(b, bo.Tell([]float64{optimisertest.Sphere(xs[0])}))
	}
}
