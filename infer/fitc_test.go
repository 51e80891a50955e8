package infer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/lucasmaystre/gofitc/kern"
	"github.com/lucasmaystre/gofitc/lab"
	"github.com/lucasmaystre/gofitc/lik"
	"github.com/lucasmaystre/gofitc/means"
)

// countingKernel counts provider evaluations, to verify that accessors
// do not recompute unless hyperparameters changed.
type countingKernel struct {
	kern.Kernel
	matrixCalls   int
	diagonalCalls int
}

func (k *countingKernel) Matrix(X, Z mat.Matrix) *mat.Dense {
	k.matrixCalls++
	return k.Kernel.Matrix(X, Z)
}

func (k *countingKernel) Diagonal(X mat.Matrix) *mat.VecDense {
	k.diagonalCalls++
	return k.Kernel.Diagonal(X)
}

// brokenDiagKernel reports a diagonal smaller than its own covariance
// blocks imply, which makes the residual variance non-positive.
type brokenDiagKernel struct {
	kern.Kernel
}

func (k *brokenDiagKernel) Diagonal(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	return mat.NewVecDense(n, nil)
}

// indefiniteKernel produces a symmetric but not positive-definite
// inducing block.
type indefiniteKernel struct{}

func (k *indefiniteKernel) Matrix(X, Z mat.Matrix) *mat.Dense {
	n, _ := X.Dims()
	m, _ := Z.Dims()
	out := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if i == j {
				out.Set(i, j, 1)
			} else {
				out.Set(i, j, 2)
			}
		}
	}
	return out
}

func (k *indefiniteKernel) Diagonal(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, 1)
	}
	return out
}

func (k *indefiniteKernel) Params() []float64 {
	return nil
}

// fakeLik is a non-Gaussian likelihood stand-in.
type fakeLik struct{}

func (fakeLik) Kind() lik.Kind    { return lik.Kind(99) }
func (fakeLik) Params() []float64 { return nil }

type noopMinimizer struct{}

func (noopMinimizer) Minimize(objective func([]float64) float64, init []float64) []float64 {
	return init
}

func smallDataset() (x, z *mat.Dense, ys []float64) {
	x = mat.NewDense(3, 1, []float64{0.1, 0.5, 0.9})
	z = mat.NewDense(2, 1, []float64{0.2, 0.8})
	ys = []float64{0.3, -0.4, 0.8}
	return
}

func newEngine(t *testing.T, kernel kern.Kernel, sigma float64, opts ...Option) *FITC {
	t.Helper()
	x, z, ys := smallDataset()
	engine, err := NewFITC(kernel, means.NewZero(), lik.NewGaussian(sigma),
		lab.NewRegression(ys), x, z, opts...)
	require.NoError(t, err)
	return engine
}

// denseRefNegLogML evaluates the FITC marginal likelihood the slow way:
// build the full low-rank-plus-diagonal covariance and factorize it
// from scratch.
func denseRefNegLogML(t *testing.T, kernel kern.Kernel, sigma, logScale, logIndNoise float64,
	x, z *mat.Dense, ys []float64) float64 {
	t.Helper()
	n, _ := x.Dims()
	m, _ := z.Dims()
	c2 := math.Exp(2 * logScale)
	indNoise := math.Exp(logIndNoise)

	kuu := kernel.Matrix(z, z)
	kuuJit := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			val := c2 * kuu.At(i, j)
			if i == j {
				val += indNoise
			}
			kuuJit.SetSym(i, j, val)
		}
	}
	ku := mat.NewDense(m, n, nil)
	ku.Scale(c2, kernel.Matrix(z, x))

	var cholUU mat.Cholesky
	require.True(t, cholUU.Factorize(kuuJit))
	s := mat.NewDense(m, n, nil)
	require.NoError(t, cholUU.SolveTo(s, ku))
	q := mat.NewDense(n, n, nil)
	q.Mul(ku.T(), s)

	diag := kernel.Diagonal(x)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if i == j {
				cov.SetSym(i, i, c2*diag.AtVec(i)+sigma*sigma)
			} else {
				cov.SetSym(i, j, q.At(i, j))
			}
		}
	}
	var cholC mat.Cholesky
	require.True(t, cholC.Factorize(cov))
	y := mat.NewVecDense(n, ys)
	alpha := mat.NewVecDense(n, nil)
	require.NoError(t, cholC.SolveVecTo(alpha, y))
	return mat.Dot(y, alpha)/2 + cholC.LogDet()/2 + float64(n)*math.Log(2*math.Pi)/2
}

func TestNegLogMarginalLikelihoodMatchesDenseReference(t *testing.T) {
	kernel := kern.NewSqExp(1.0, 0.5)
	engine := newEngine(t, kernel, 0.1)

	got, err := engine.NegLogMarginalLikelihood()
	require.NoError(t, err)

	x, z, ys := smallDataset()
	want := denseRefNegLogML(t, kernel, 0.1, 0.0, math.Log(1e-6), x, z, ys)
	assert.InDelta(t, want, got, 1e-6)
}

func TestConsistencyWithExact(t *testing.T) {
	x := mat.NewDense(5, 1, []float64{-1.0, -0.4, 0.0, 0.7, 1.3})
	ys := []float64{0.9, 0.1, -0.3, 0.4, -0.8}
	kernel := kern.NewSqExp(1.0, 0.7)

	// With the inducing set equal to the training set and a vanishing
	// jitter, FITC reduces to exact regression.
	fitc, err := NewFITC(kernel, means.NewZero(), lik.NewGaussian(0.2),
		lab.NewRegression(ys), x, x,
		WithLogInducingNoise(math.Log(1e-10)))
	require.NoError(t, err)
	exact, err := NewExact(kernel, means.NewZero(), lik.NewGaussian(0.2),
		lab.NewRegression(ys), x)
	require.NoError(t, err)

	nlFITC, err := fitc.NegLogMarginalLikelihood()
	require.NoError(t, err)
	nlExact, err := exact.NegLogMarginalLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, nlExact, nlFITC, 1e-5)

	muFITC, err := fitc.PosteriorMean()
	require.NoError(t, err)
	muExact, err := exact.PosteriorMean()
	require.NoError(t, err)
	for i := 0; i < muExact.Len(); i++ {
		assert.InDelta(t, muExact.AtVec(i), muFITC.AtVec(i), 1e-5)
	}
}

func TestDeterminism(t *testing.T) {
	first := newEngine(t, kern.NewSqExp(1.0, 0.5), 0.1)
	second := newEngine(t, kern.NewSqExp(1.0, 0.5), 0.1)

	nl1, err := first.NegLogMarginalLikelihood()
	require.NoError(t, err)
	nl2, err := second.NegLogMarginalLikelihood()
	require.NoError(t, err)
	assert.Equal(t, nl1, nl2)

	mu1, err := first.PosteriorMean()
	require.NoError(t, err)
	mu2, err := second.PosteriorMean()
	require.NoError(t, err)
	assert.Equal(t, mu1.RawVector().Data, mu2.RawVector().Data)
}

func TestAccessorsDoNotRecompute(t *testing.T) {
	counting := &countingKernel{Kernel: kern.NewSqExp(1.0, 0.5)}
	engine := newEngine(t, counting, 0.1)

	_, err := engine.NegLogMarginalLikelihood()
	require.NoError(t, err)
	// One update: Kuu, Ktru and the training diagonal.
	assert.Equal(t, 2, counting.matrixCalls)
	assert.Equal(t, 1, counting.diagonalCalls)

	_, err = engine.NegLogMarginalLikelihood()
	require.NoError(t, err)
	assert.Equal(t, 2, counting.matrixCalls)
	assert.Equal(t, 1, counting.diagonalCalls)

	// Gradient state reuses the cached covariance blocks.
	_, err = engine.DerivativeWrtLikelihoodParam(lik.ParamLogSigma)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.matrixCalls)

	// A hyperparameter change invalidates the stamp.
	engine.SetLogScale(0.1)
	_, err = engine.NegLogMarginalLikelihood()
	require.NoError(t, err)
	assert.Equal(t, 4, counting.matrixCalls)
	assert.Equal(t, 2, counting.diagonalCalls)
}

func TestResidualVarianceFailsLoudly(t *testing.T) {
	broken := &brokenDiagKernel{Kernel: kern.NewSqExp(1.0, 0.5)}
	engine := newEngine(t, broken, 0.1)

	err := engine.Update()
	assert.ErrorIs(t, err, ErrResidualVariance)

	_, err = engine.NegLogMarginalLikelihood()
	assert.ErrorIs(t, err, ErrResidualVariance)
}

func TestCholeskyFailureSurfaces(t *testing.T) {
	engine := newEngine(t, &indefiniteKernel{}, 0.1)

	err := engine.Update()
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
}

func TestResidualVariancePositive(t *testing.T) {
	engine := newEngine(t, kern.NewSqExp(1.0, 0.5), 0.1)
	require.NoError(t, engine.Update())
	for j := 0; j < engine.t.Len(); j++ {
		assert.Greater(t, engine.t.AtVec(j), 0.0)
	}
}

func TestPosteriorCovarianceSymmetric(t *testing.T) {
	x := mat.NewDense(6, 1, []float64{-1.2, -0.8, -0.1, 0.3, 0.9, 1.4})
	z := mat.NewDense(3, 1, []float64{-1.0, 0.0, 1.0})
	ys := []float64{0.2, -0.1, 0.5, -0.7, 0.3, 0.1}
	engine, err := NewFITC(kern.NewSqExp(1.0, 0.6), means.NewZero(),
		lik.NewGaussian(0.15), lab.NewRegression(ys), x, z)
	require.NoError(t, err)

	cov, err := engine.PosteriorCovariance()
	require.NoError(t, err)
	n, _ := cov.Dims()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			scale := math.Max(1.0, math.Abs(cov.At(i, j)))
			assert.InDelta(t, cov.At(i, j), cov.At(j, i), 1e-8*scale)
		}
	}
}

func TestPosteriorPrecisionDeltaSymmetric(t *testing.T) {
	engine := newEngine(t, kern.NewSqExp(1.0, 0.5), 0.1)
	l, err := engine.PosteriorPrecisionDelta()
	require.NoError(t, err)
	m, _ := l.Dims()
	for i := 0; i < m; i++ {
		for j := i + 1; j < m; j++ {
			scale := math.Max(1.0, math.Abs(l.At(i, j)))
			assert.InDelta(t, l.At(i, j), l.At(j, i), 1e-8*scale)
		}
	}
}

func TestDerivativeMatchesFiniteDifference(t *testing.T) {
	engine := newEngine(t, kern.NewSqExp(1.0, 0.5), 0.25)

	grad, err := engine.DerivativeWrtLikelihoodParam(lik.ParamLogSigma)
	require.NoError(t, err)

	const h = 1e-5
	model := engine.Likelihood()
	base := model.LogSigma()

	model.SetLogSigma(base + h)
	nlPlus, err := engine.NegLogMarginalLikelihood()
	require.NoError(t, err)
	model.SetLogSigma(base - h)
	nlMinus, err := engine.NegLogMarginalLikelihood()
	require.NoError(t, err)
	model.SetLogSigma(base)

	fd := (nlPlus - nlMinus) / (2 * h)
	assert.InDelta(t, fd, grad, 1e-5*math.Max(1.0, math.Abs(fd)))
}

func TestDerivativeUnsupportedParam(t *testing.T) {
	engine := newEngine(t, kern.NewSqExp(1.0, 0.5), 0.1)

	_, err := engine.DerivativeWrtLikelihoodParam("wrong_name")
	assert.ErrorIs(t, err, ErrUnsupportedParam)
	assert.ErrorContains(t, err, "wrong_name")
}

func TestDiagonalVector(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0.0, 0.3, 0.6, 0.9})
	z := mat.NewDense(2, 1, []float64{0.2, 0.7})
	ys := []float64{0.1, -0.2, 0.4, 0.0}
	engine, err := NewFITC(kern.NewSqExp(1.0, 0.5), means.NewZero(),
		lik.NewGaussian(2.0), lab.NewRegression(ys), x, z)
	require.NoError(t, err)

	diag, err := engine.DiagonalVector()
	require.NoError(t, err)
	require.Equal(t, 4, diag.Len())
	for i := 0; i < diag.Len(); i++ {
		assert.Equal(t, 0.5, diag.AtVec(i))
	}
}

func TestRegisterMinimizerNoOp(t *testing.T) {
	engine := newEngine(t, kern.NewSqExp(1.0, 0.5), 0.1)

	before, err := engine.NegLogMarginalLikelihood()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		engine.RegisterMinimizer(noopMinimizer{})
	})

	after, err := engine.NegLogMarginalLikelihood()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestNewFITCPreconditions(t *testing.T) {
	x, z, ys := smallDataset()

	_, err := NewFITC(kern.NewSqExp(1.0, 0.5), means.NewZero(), fakeLik{},
		lab.NewRegression(ys), x, z)
	assert.ErrorIs(t, err, ErrLikelihoodKind)

	_, err = NewFITC(kern.NewSqExp(1.0, 0.5), means.NewZero(), lik.NewGaussian(0.1),
		lab.NewBinary([]float64{1, -1, 1}), x, z)
	assert.ErrorIs(t, err, ErrLabelKind)

	_, err = NewFITC(kern.NewSqExp(1.0, 0.5), means.NewZero(), lik.NewGaussian(0.1),
		lab.NewRegression(ys), x, nil)
	assert.ErrorIs(t, err, ErrNoInducing)

	_, err = NewFITC(kern.NewSqExp(1.0, 0.5), means.NewZero(), lik.NewGaussian(0.1),
		lab.NewRegression([]float64{0.1, 0.2}), x, z)
	assert.ErrorIs(t, err, ErrDimMismatch)
}

func TestAsFITC(t *testing.T) {
	engine := newEngine(t, kern.NewSqExp(1.0, 0.5), 0.1)

	got, err := AsFITC(engine)
	require.NoError(t, err)
	assert.Same(t, engine, got)

	_, err = AsFITC(nil)
	assert.ErrorIs(t, err, ErrInferenceKind)

	x, _, ys := smallDataset()
	exact, err := NewExact(kern.NewSqExp(1.0, 0.5), means.NewZero(),
		lik.NewGaussian(0.1), lab.NewRegression(ys), x)
	require.NoError(t, err)
	_, err = AsFITC(exact)
	assert.ErrorIs(t, err, ErrInferenceKind)

	got2, err := AsExact(exact)
	require.NoError(t, err)
	assert.Same(t, exact, got2)
	_, err = AsExact(engine)
	assert.ErrorIs(t, err, ErrInferenceKind)
}

func TestNonZeroMean(t *testing.T) {
	x, z, ys := smallDataset()
	kernel := kern.NewSqExp(1.0, 0.5)

	shifted := make([]float64, len(ys))
	for i, y := range ys {
		shifted[i] = y + 1.5
	}
	centered, err := NewFITC(kernel, means.NewZero(), lik.NewGaussian(0.1),
		lab.NewRegression(ys), x, z)
	require.NoError(t, err)
	offset, err := NewFITC(kernel, means.NewConstant(1.5), lik.NewGaussian(0.1),
		lab.NewRegression(shifted), x, z)
	require.NoError(t, err)

	nlCentered, err := centered.NegLogMarginalLikelihood()
	require.NoError(t, err)
	nlOffset, err := offset.NegLogMarginalLikelihood()
	require.NoError(t, err)
	assert.InDelta(t, nlCentered, nlOffset, 1e-12)
}
