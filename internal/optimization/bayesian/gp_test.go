package bayesian

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/optimization/kernels"
)

func rbf(t *testing.T, lengthScale float64) kernels.Kernel {
	t.Helper()
	k, err := kernels.NewRBFKernel(lengthScale, 1)
	require.NoError(t, err)
	return k
}

func TestGPFitAndPredict(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewVecDense(3, []float64{1, 2, 1})

	gp := NewGP(rbf(t, 1), 1e-6, nil)
	require.NoError(t, gp.Fit(X, y))

	mean, variance, err := gp.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, y.AtVec(i), mean.AtVec(i), 1e-3, "interpolates the training data")
		assert.Less(t, variance.AtVec(i), 1e-3)
	}

	far, farVariance, err := gp.Predict(mat.NewDense(1, 1, []float64{50}))
	require.NoError(t, err)
	assert.InDelta(t, 0, far.AtVec(0), 1e-6, "reverts to the zero mean")
	assert.InDelta(t, 1, farVariance.AtVec(0), 1e-6, "reverts to the prior variance")
}

func TestGPWithNoise(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{-1, 0, 1})
	y := mat.NewVecDense(3, []float64{1, 0, 1})

	gp := NewGP(rbf(t, 1), 0.1, nil)
	require.NoError(t, gp.Fit(X, y))

	means, variances, err := gp.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, y.AtVec(i), means.AtVec(i), 0.5, "prediction should be close to training data")
		assert.Greater(t, variances.AtVec(i), 0.0, "noise leaves uncertainty at the data")
	}
}

func TestGPErrorHandling(t *testing.T) {
	gp := NewGP(rbf(t, 1), 1e-6, nil)

	t.Run("nil input", func(t *testing.T) {
		err := gp.Fit(nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input matrices must not be nil")
	})

	t.Run("empty input", func(t *testing.T) {
		err := gp.Fit(&mat.Dense{}, &mat.VecDense{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input matrix X must not be empty")
	})

	t.Run("mismatched dimensions", func(t *testing.T) {
		err := gp.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewVecDense(2, []float64{1, 2}))
		require.Error(t, err)
		assert.ErrorIs(t, err, optimization.ErrDimensionMismatch)
		assert.Contains(t, err.Error(), "X has 3 samples but y has length 2")
	})

	t.Run("predict without fit", func(t *testing.T) {
		_, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model not trained or no training data")

		_, err = gp.LogMarginalLikelihood()
		assert.Error(t, err)
	})
}

func TestGPSingularMatrix(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 1, 1})
	y := mat.NewVecDense(3, []float64{1, 1, 1.1})

	gp := NewGP(rbf(t, 1), 0, nil)
	require.NoError(t, gp.Fit(X, y), "jitter rescues the duplicate points")
	assert.Greater(t, gp.jitter, 0.0)

	mean, variance, err := gp.Predict(mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(mean.AtVec(0)))
	assert.GreaterOrEqual(t, variance.AtVec(0), 0.0)
}

func TestGPBatchPredict(t *testing.T) {
	X := mat.NewDense(5, 1, []float64{-2, -1, 0, 1, 2})
	y := mat.NewVecDense(5, []float64{4, 1, 0, 1, 4})

	gp := NewGP(rbf(t, 1), 1e-6, nil)
	require.NoError(t, gp.Fit(X, y))

	testX := mat.NewDense(3, 1, []float64{-0.5, 0.5, 1.5})
	means, variances, err := gp.Predict(testX)
	require.NoError(t, err)
	require.Equal(t, 3, means.Len())
	require.Equal(t, 3, variances.Len())

	for i := 0; i < 3; i++ {
		x := testX.At(i, 0)
		assert.InDelta(t, x*x, means.AtVec(i), 0.5, "prediction should be close to x^2")
		assert.Greater(t, variances.AtVec(i), 0.0)
	}
}

func TestLogMarginalLikelihood(t *testing.T) {
	gp := NewGP(rbf(t, 1), 0, nil)
	require.NoError(t, gp.Fit(mat.NewDense(1, 1, []float64{0}), mat.NewVecDense(1, []float64{1})))

	lml, err := gp.LogMarginalLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, -0.5-0.5*math.Log(2*math.Pi), lml, 1e-12)
}

func TestSelectLengthScale(t *testing.T) {
	n := 13
	X := mat.NewDense(n, 1, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x := 0.5 * float64(i)
		X.Set(i, 0, x)
		y.SetVec(i, math.Sin(x))
	}

	gp := NewGP(rbf(t, 1), 1e-6, nil)
	require.NoError(t, gp.SelectLengthScale(X, y, []float64{0.01, 1}))
	assert.Equal(t, 1.0, gp.Kernel().Hyperparameters()[0], "a smooth signal prefers the long length scale")

	mean, _, err := gp.Predict(mat.NewDense(1, 1, []float64{1.25}))
	require.NoError(t, err)
	assert.InDelta(t, math.Sin(1.25), mean.AtVec(0), 0.01)
}

func TestGPFitsRandomHighDimensionalData(t *testing.T) {
	X, y := randomData(rand.New(rand.NewSource(7)), 30, 20)
	kernel, err := kernels.NewMatern52Kernel(0.5, 1)
	require.NoError(t, err)
	gp := NewGP(kernel, 1e-6, nil)
	require.NoError(t, gp.Fit(X, y))

	_, variance, err := gp.Predict(mat.NewDense(1, 20, nil))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, variance.AtVec(0), 0.0)
}
