package bayesian

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/cellfit/internal/optimization"
	"github.com/copyleftdev/cellfit/internal/optimization/kernels"
)

// maxJitterAttempts bounds how often Fit retries a failed Cholesky
// factorisation with a tenfold larger diagonal jitter
const maxJitterAttempts = 10

// GP implements a zero-mean Gaussian Process regression model
type GP struct {
	kernel   kernels.Kernel
	noiseVar float64

	// Training data
	X *mat.Dense    // Input points (n_samples, n_features)
	y *mat.VecDense // Target values (n_samples)

	// Precomputed values
	alpha  *mat.VecDense
	chol   *mat.Cholesky
	jitter float64

	logger *zap.Logger
}

// NewGP creates a new Gaussian Process model. A nil logger discards output.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gaussian_process"),
	}
}

// Kernel returns the covariance function
func (gp *GP) Kernel() kernels.Kernel { return gp.kernel }

// Fit conditions the GP on the training data
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return optimization.WrapError(errors.New("input matrices must not be nil"), "gaussian_process").WithOperation(op)
	}
	if X.IsEmpty() || y.IsEmpty() {
		return optimization.WrapError(errors.New("input matrix X must not be empty"), "gaussian_process").WithOperation(op)
	}

	nSamples, nFeatures := X.Dims()
	if nSamples != y.Len() {
		err := fmt.Errorf("%w: X has %d samples but y has length %d", optimization.ErrDimensionMismatch, nSamples, y.Len())
		return optimization.WrapError(err, "gaussian_process").WithOperation(op)
	}

	K := gp.kernelMatrix(X)
	chol, jitter, err := gp.factorize(K)
	if err != nil {
		return optimization.WrapError(err, "gaussian_process").WithOperation(op)
	}

	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return optimization.WrapError(fmt.Errorf("failed to solve linear system: %w", err), "gaussian_process").WithOperation(op)
	}

	gp.X = mat.DenseCopyOf(X)
	gp.y = mat.VecDenseCopyOf(y)
	gp.chol = chol
	gp.alpha = alpha
	gp.jitter = jitter

	gp.logger.Debug("Fitted GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("jitter", jitter),
	)
	return nil
}

// kernelMatrix returns K(X, X) + noiseVar I
func (gp *GP) kernelMatrix(X *mat.Dense) *mat.SymDense {
	n, _ := X.Dims()
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		xi := X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(xi, xi)+gp.noiseVar)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(xi, X.RawRowView(j)))
		}
	}
	return K
}

// factorize returns the Cholesky factor of K, adding growing jitter to the
// diagonal while the factorisation fails
func (gp *GP) factorize(K *mat.SymDense) (*mat.Cholesky, float64, error) {
	n := K.SymmetricDim()
	jitter := 0.0
	next := 1e-10 * math.Max(1, mat.Trace(K)/float64(n))

	for attempt := 0; attempt < maxJitterAttempts; attempt++ {
		var chol mat.Cholesky
		if chol.Factorize(K) {
			return &chol, jitter, nil
		}
		gp.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", next))
		for i := 0; i < n; i++ {
			K.SetSym(i, i, K.At(i, i)+next-jitter)
		}
		jitter = next
		next *= 10
	}
	return nil, jitter, errors.New("Cholesky decomposition failed: matrix is not positive definite")
}

// Predict returns the mean and variance of the posterior predictive
// distribution of the latent function at the rows of X
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, optimization.WrapError(errors.New("input matrix X is nil"), "gaussian_process").WithOperation(op)
	}
	if gp.X == nil || gp.alpha == nil {
		return nil, nil, optimization.WrapError(errors.New("model not trained or no training data"), "gaussian_process").WithOperation(op)
	}

	nTest, _ := X.Dims()
	nTrain, _ := gp.X.Dims()

	Kss := make([]float64, nTest)
	Kstar := mat.NewDense(nTest, nTrain, nil)
	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		Kss[i] = gp.kernel.Eval(xStar, xStar)
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(xStar, gp.X.RawRowView(j)))
		}
	}

	mean := mat.NewVecDense(nTest, nil)
	mean.MulVec(Kstar, gp.alpha)

	// diag(K** - K* K^-1 K*^T) through the Cholesky factor
	v := mat.NewDense(nTrain, nTest, nil)
	if err := gp.chol.SolveTo(v, Kstar.T()); err != nil {
		return nil, nil, optimization.WrapError(fmt.Errorf("failed to solve linear system: %w", err), "gaussian_process").WithOperation(op)
	}
	variance := mat.NewVecDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		reduction := mat.Dot(Kstar.RowView(i), v.ColView(i))
		variance.SetVec(i, math.Max(0, Kss[i]-reduction))
	}
	return mean, variance, nil
}

// LogMarginalLikelihood returns log p(y | X) of the fitted model
func (gp *GP) LogMarginalLikelihood() (float64, error) {
	if gp.chol == nil {
		return math.NaN(), optimization.WrapError(errors.New("model not trained or no training data"), "gaussian_process").WithOperation("GP.LogMarginalLikelihood")
	}
	n := float64(gp.y.Len())
	return -0.5*mat.Dot(gp.y, gp.alpha) - 0.5*gp.chol.LogDet() - 0.5*n*math.Log(2*math.Pi), nil
}

// SelectLengthScale refits the model for each candidate length scale and
// keeps the one with the highest marginal likelihood
func (gp *GP) SelectLengthScale(X *mat.Dense, y *mat.VecDense, candidates []float64) error {
	signalVar := gp.kernel.Hyperparameters()[1]
	bestScale, bestLML := math.NaN(), math.Inf(-1)
	for _, ls := range candidates {
		if err := gp.kernel.SetHyperparameters([]float64{ls, signalVar}); err != nil {
			return err
		}
		if err := gp.Fit(X, y); err != nil {
			continue
		}
		lml, err := gp.LogMarginalLikelihood()
		if err == nil && lml > bestLML {
			bestScale, bestLML = ls, lml
		}
	}
	if math.IsNaN(bestScale) {
		return optimization.WrapError(errors.New("no length scale produced a valid fit"), "gaussian_process").WithOperation("GP.SelectLengthScale")
	}
	if err := gp.kernel.SetHyperparameters([]float64{bestScale, signalVar}); err != nil {
		return err
	}
	gp.logger.Debug("Selected length scale", zap.Float64("length_scale", bestScale), zap.Float64("log_marginal_likelihood", bestLML))
	return gp.Fit(X, y)
}
