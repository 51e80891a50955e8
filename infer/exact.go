package infer

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/lucasmaystre/gofitc/kern"
	"github.com/lucasmaystre/gofitc/lab"
	"github.com/lucasmaystre/gofitc/lik"
	"github.com/lucasmaystre/gofitc/means"
	"github.com/lucasmaystre/gofitc/utils"
)

var _ Inference = (*Exact)(nil) // Check that Exact respects the Inference interface.

// Exact implements dense Gaussian-process regression. An update costs
// O(n^3); it is the reference the sparse engine is validated against
// and remains practical for small n.
type Exact struct {
	kernel kern.Kernel
	mean   means.Mean
	model  *lik.Gaussian
	labels lab.Labels
	x      *mat.Dense

	logScale float64

	logger *zap.Logger

	stamp     uint64
	factFresh bool

	cholK *mat.TriDense // Upper Cholesky of K*c2 + sigma^2*I.
	ks    *mat.Dense    // Scaled noise-free covariance, n x n.
	alpha *mat.VecDense // (K*c2 + sigma^2*I) \ (y - mean).
}

// ExactOption configures an Exact engine.
type ExactOption func(*Exact)

// WithExactLogger attaches a structured logger to the engine.
func WithExactLogger(logger *zap.Logger) ExactOption {
	return func(e *Exact) {
		e.logger = logger
	}
}

// WithExactLogScale sets the log of the global covariance scale.
func WithExactLogScale(logScale float64) ExactOption {
	return func(e *Exact) {
		e.logScale = logScale
	}
}

// NewExact builds a dense engine over training features x (one point
// per row), regression labels and a Gaussian likelihood.
func NewExact(kernel kern.Kernel, mean means.Mean, model lik.Likelihood,
	labels lab.Labels, x *mat.Dense, opts ...ExactOption) (*Exact, error) {
	if model == nil || model.Kind() != lik.KindGaussian {
		return nil, fmt.Errorf("%w: exact inference requires a Gaussian likelihood", ErrLikelihoodKind)
	}
	gauss, ok := model.(*lik.Gaussian)
	if !ok {
		return nil, fmt.Errorf("%w: exact inference requires a Gaussian likelihood", ErrLikelihoodKind)
	}
	if labels == nil || labels.Kind() != lab.KindRegression {
		return nil, fmt.Errorf("%w: exact inference requires regression labels", ErrLabelKind)
	}
	n, _ := x.Dims()
	if labels.Len() != n {
		return nil, fmt.Errorf("%w: %d labels for %d training points", ErrDimMismatch, labels.Len(), n)
	}
	e := &Exact{
		kernel:   kernel,
		mean:     mean,
		model:    gauss,
		labels:   labels,
		x:        x,
		logScale: 0.0,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Exact) Kind() Kind {
	return KindExact
}

func (e *Exact) SetLogScale(logScale float64) {
	e.logScale = logScale
}

// Likelihood returns the Gaussian likelihood model held by the engine.
func (e *Exact) Likelihood() *lik.Gaussian {
	return e.model
}

func (e *Exact) paramsStamp() uint64 {
	return utils.ParamsHash(
		[]float64{e.logScale},
		e.model.Params(),
		e.kernel.Params(),
		e.mean.Params(),
	)
}

func (e *Exact) refresh() error {
	if e.factFresh && e.stamp == e.paramsStamp() {
		return nil
	}
	return e.Update()
}

// Update recomputes the Cholesky factor and posterior weights from the
// current hyperparameters. O(n^3).
func (e *Exact) Update() error {
	n, _ := e.x.Dims()
	c2 := math.Exp(2 * e.logScale)
	sigma := e.model.Sigma()

	e.ks = e.kernel.Matrix(e.x, e.x)
	e.ks.Scale(c2, e.ks)

	// Ky = K*c2 + sigma^2*I
	ky := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			val := e.ks.At(i, j)
			if i == j {
				val += sigma * sigma
			}
			ky.SetSym(i, j, val)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(ky); !ok {
		return fmt.Errorf("training covariance: %w", ErrNotPositiveDefinite)
	}
	e.cholK = mat.NewTriDense(n, mat.Upper, nil)
	chol.UTo(e.cholK)

	// alpha = Ky \ (y - mean)
	y := e.labels.Values()
	mv := e.mean.Vector(e.x)
	yc := mat.NewVecDense(n, nil)
	yc.SubVec(y, mv)
	e.alpha = mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(e.alpha, yc); err != nil {
		return fmt.Errorf("posterior weight solve: %w", ErrNotPositiveDefinite)
	}

	e.factFresh = true
	e.stamp = e.paramsStamp()
	e.logger.Debug("updated factorization state",
		zap.Float64("log_scale", e.logScale),
		zap.Float64("sigma", sigma),
	)
	return nil
}

// NegLogMarginalLikelihood returns the exact negative log marginal
// likelihood of the targets.
func (e *Exact) NegLogMarginalLikelihood() (float64, error) {
	if err := e.refresh(); err != nil {
		return 0, err
	}
	n, _ := e.x.Dims()
	y := e.labels.Values()
	mv := e.mean.Vector(e.x)
	yc := mat.NewVecDense(n, nil)
	yc.SubVec(y, mv)
	// nlZ = (y-m)'*alpha/2 + sum(log(diag(U))) + n*log(2*pi)/2
	sumLogDiag := 0.0
	for i := 0; i < n; i++ {
		sumLogDiag += math.Log(e.cholK.At(i, i))
	}
	return mat.Dot(yc, e.alpha)/2 + sumLogDiag + float64(n)*math.Log(2*math.Pi)/2, nil
}

// PosteriorMean returns the posterior mean at the training inputs.
func (e *Exact) PosteriorMean() (*mat.VecDense, error) {
	if err := e.refresh(); err != nil {
		return nil, err
	}
	n, _ := e.x.Dims()
	// mu = K*c2 * alpha
	mu := mat.NewVecDense(n, nil)
	mu.MulVec(e.ks, e.alpha)
	return mu, nil
}

// PosteriorCovariance returns the posterior covariance at the training
// inputs.
func (e *Exact) PosteriorCovariance() (*mat.Dense, error) {
	if err := e.refresh(); err != nil {
		return nil, err
	}
	n, _ := e.x.Dims()
	// W = U' \ Ks, so that Sigma = Ks - W'*W
	w := mat.NewDense(n, n, nil)
	if err := w.Solve(e.cholK.T(), e.ks); err != nil {
		return nil, fmt.Errorf("posterior covariance solve: %w", ErrNotPositiveDefinite)
	}
	cov := mat.NewDense(n, n, nil)
	cov.Mul(w.T(), w)
	cov.Sub(e.ks, cov)
	return cov, nil
}
