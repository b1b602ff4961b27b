package bayesian

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/logging"
	"github.com/copyleftdev/paramgen/internal/optimization/kernels"
)

const gpComponent = "gaussian_process"

// GP implements a zero-mean Gaussian Process regression model
type GP struct {
	// Kernel function
	kernel kernels.Kernel

	// Noise variance
	noiseVar float64

	// Training data
	X *mat.Dense    // Input points (n_samples, n_features)
	y *mat.VecDense // Target values (n_samples)

	// Precomputed values
	alpha *mat.VecDense
	chol  *mat.Cholesky
	// jitter actually added to the diagonal during the last fit
	jitter float64

	// Matrix pool for reusing matrix allocations
	matrixPool *MatrixPool

	// Logger for structured logging
	logger *zap.Logger
}

// NewGP creates a new Gaussian Process model
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	return &GP{
		kernel:     kernel,
		noiseVar:   noiseVar,
		matrixPool: NewMatrixPool(),
		logger:     logging.OrNop(logger).Named(gpComponent),
	}
}

func gpErr(op string, err error) error {
	return errors.Wrap(errors.KindOptimizer, err, "gaussian process").
		WithComponent(gpComponent).WithOperation(op)
}

// Fit fits the GP model to the training data
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return gpErr(op, fmt.Errorf("input matrices must not be nil"))
	}
	if X.IsEmpty() || y.IsEmpty() {
		return gpErr(op, fmt.Errorf("input matrix X must not be empty"))
	}

	nSamples, nFeatures := X.Dims()
	if nSamples != y.Len() {
		return gpErr(op, fmt.Errorf("dimension mismatch: X has %d samples but y has length %d", nSamples, y.Len()))
	}

	gp.logger.Debug("Fitting GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
	)

	if gp.X != nil {
		gp.matrixPool.PutDense(gp.X)
		gp.matrixPool.PutVecDense(gp.y)
	}
	gp.X = gp.matrixPool.GetDense(nSamples, nFeatures)
	gp.X.Copy(X)
	gp.y = gp.matrixPool.GetVecDense(nSamples)
	gp.y.CopyVec(y)

	K := gp.computeKernelMatrix(gp.X)
	defer gp.matrixPool.PutSymDense(K)

	chol, jitter, err := gp.factorize(K)
	if err != nil {
		alpha, svdErr := gp.solveWithSVD(K, gp.y)
		if svdErr != nil {
			return gpErr(op, fmt.Errorf("%v; svd fallback: %w", err, svdErr))
		}
		gp.alpha, gp.chol, gp.jitter = alpha, nil, 0
		return nil
	}

	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, gp.y); err != nil {
		return gpErr(op, fmt.Errorf("failed to solve linear system: %w", err))
	}

	gp.alpha, gp.chol, gp.jitter = alpha, chol, jitter

	gp.logger.Debug("Successfully fitted GP model",
		zap.Int("samples", nSamples),
		zap.Float64("jitter", jitter),
	)
	return nil
}

// computeKernelMatrix builds K(X, X) + noise*I.
func (gp *GP) computeKernelMatrix(X *mat.Dense) *mat.SymDense {
	n, _ := X.Dims()
	K := gp.matrixPool.GetSymDense(n)
	for i := 0; i < n; i++ {
		xi := X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(xi, xi)+gp.noiseVar)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(xi, X.RawRowView(j)))
		}
	}
	return K
}

// factorize attempts a Cholesky factorization of K, adding increasing jitter
// to the diagonal until it succeeds.
func (gp *GP) factorize(K *mat.SymDense) (*mat.Cholesky, float64, error) {
	n := K.SymmetricDim()

	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(K.At(i, i)))
	}
	if scale == 0 {
		scale = 1
	}

	var chol mat.Cholesky
	if chol.Factorize(K) {
		return &chol, 0, nil
	}

	jittered := mat.NewSymDense(n, nil)
	const maxAttempts = 10
	jitter := 1e-10 * scale
	for attempt := 0; attempt < maxAttempts; attempt++ {
		jittered.CopySym(K)
		for i := 0; i < n; i++ {
			jittered.SetSym(i, i, K.At(i, i)+jitter)
		}
		if chol.Factorize(jittered) {
			gp.logger.Warn("Kernel matrix needed jitter to factorize",
				zap.Int("attempt", attempt+1),
				zap.Float64("jitter", jitter))
			return &chol, jitter, nil
		}
		jitter *= 10
	}
	return nil, 0, fmt.Errorf("cholesky decomposition failed: matrix is not positive definite")
}

// solveWithSVD solves K * alpha = y with a truncated pseudo-inverse.
func (gp *GP) solveWithSVD(K *mat.SymDense, y *mat.VecDense) (*mat.VecDense, error) {
	n := K.SymmetricDim()

	var svd mat.SVD
	if ok := svd.Factorize(K, mat.SVDFull); !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}

	s := svd.Values(nil)
	if len(s) == 0 {
		return nil, fmt.Errorf("SVD returned no singular values")
	}

	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	var uty mat.VecDense
	uty.MulVec(U.T(), y)

	threshold := math.Max(float64(n), 1.0) * s[0] * 1e-15
	rank := 0
	for i := 0; i < n; i++ {
		if s[i] > threshold {
			uty.SetVec(i, uty.AtVec(i)/s[i])
			rank++
		} else {
			uty.SetVec(i, 0)
		}
	}
	if rank == 0 {
		return nil, fmt.Errorf("matrix is effectively rank zero after thresholding")
	}

	alpha := mat.NewVecDense(n, nil)
	alpha.MulVec(&V, &uty)

	gp.logger.Warn("Using SVD solver",
		zap.Float64("condition_number", s[0]/math.Max(s[len(s)-1], 1e-16)),
		zap.Int("effective_rank", rank),
	)
	return alpha, nil
}

// Predict returns the mean and variance of the posterior predictive
// distribution (latent function, without observation noise) at each row of X.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, gpErr(op, fmt.Errorf("input matrix X is nil"))
	}
	if gp.X == nil || gp.alpha == nil {
		return nil, nil, gpErr(op, fmt.Errorf("model not trained or no training data"))
	}

	nTest, nFeatures := X.Dims()
	nTrain, trainFeatures := gp.X.Dims()
	if nFeatures != trainFeatures {
		return nil, nil, gpErr(op, fmt.Errorf("dimension mismatch: model has %d features, got %d", trainFeatures, nFeatures))
	}

	mean := mat.NewVecDense(nTest, nil)
	variance := mat.NewVecDense(nTest, nil)

	Kstar := mat.NewDense(nTest, nTrain, nil)
	prior := make([]float64, nTest)
	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		prior[i] = gp.kernel.Eval(xStar, xStar)
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(xStar, gp.X.RawRowView(j)))
		}
	}

	mean.MulVec(Kstar, gp.alpha)

	if gp.chol == nil {
		// SVD fit: report the prior variance rather than a spurious certainty.
		for i := 0; i < nTest; i++ {
			variance.SetVec(i, prior[i])
		}
		return mean, variance, nil
	}

	// variance = k** - diag(K* K^-1 K*^T)
	v := mat.NewDense(nTrain, nTest, nil)
	if err := gp.chol.SolveTo(v, Kstar.T()); err != nil {
		return nil, nil, gpErr(op, fmt.Errorf("failed to solve linear system: %w", err))
	}
	for i := 0; i < nTest; i++ {
		var reduction float64
		for j := 0; j < nTrain; j++ {
			reduction += Kstar.At(i, j) * v.At(j, i)
		}
		variance.SetVec(i, math.Max(0, prior[i]-reduction))
	}

	return mean, variance, nil
}

// Trained reports whether Fit has succeeded at least once.
func (gp *GP) Trained() bool {
	return gp.alpha != nil
}
