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

var _ Inference = (*FITC)(nil) // Check that FITC respects the Inference interface.

// FITC implements fully-independent-training-conditional approximate
// inference for Gaussian-process regression with Gaussian noise. With n
// training points and m inducing points, a full update costs O(n*m^2)
// instead of the O(n^3) of exact inference.
//
// The engine caches its factorization state behind a hyperparameter
// stamp and is not safe for concurrent use: callers must serialize
// access to a single instance.
type FITC struct {
	kernel kern.Kernel
	mean   means.Mean
	model  *lik.Gaussian
	labels lab.Labels
	x      *mat.Dense // Training features, n rows.
	z      *mat.Dense // Inducing features, m rows.

	logScale    float64
	logIndNoise float64

	logger *zap.Logger

	// Factorization state, valid while the hyperparameter stamp
	// matches.
	stamp     uint64
	factFresh bool
	gradFresh bool

	kuu       *mat.Dense    // Raw inducing-inducing covariance, m x m.
	ktru      *mat.Dense    // Raw inducing-training covariance, m x n.
	ktrtrDiag *mat.VecDense // Diagonal of the training covariance, n.

	cholUU  *mat.TriDense // Luu, upper Cholesky of Kuu*c2 + indNoise*I.
	v       *mat.Dense    // V = Luu' \ (Ktru*c2), m x n.
	t       *mat.VecDense
	cholUTr *mat.TriDense // Lu, upper Cholesky of V*diag(t)*V' + I.
	r       *mat.VecDense
	be      *mat.VecDense
	l       *mat.Dense // Posterior precision correction.
	alpha   *mat.VecDense

	// Gradient-support state, recomputed once per stamp generation.
	al   *mat.VecDense
	b    *mat.Dense
	w    *mat.VecDense
	rvdd *mat.Dense
}

// Option configures a FITC engine.
type Option func(*FITC)

// WithLogger attaches a structured logger to the engine.
func WithLogger(logger *zap.Logger) Option {
	return func(f *FITC) {
		f.logger = logger
	}
}

// WithLogScale sets the log of the global covariance scale.
func WithLogScale(logScale float64) Option {
	return func(f *FITC) {
		f.logScale = logScale
	}
}

// WithLogInducingNoise sets the log of the jitter added to the inducing
// covariance before factorization.
func WithLogInducingNoise(logIndNoise float64) Option {
	return func(f *FITC) {
		f.logIndNoise = logIndNoise
	}
}

// NewFITC builds a FITC engine over training features x (one point per
// row), inducing features z, regression labels and a Gaussian
// likelihood. Any other likelihood or label kind is rejected.
func NewFITC(kernel kern.Kernel, mean means.Mean, model lik.Likelihood,
	labels lab.Labels, x, z *mat.Dense, opts ...Option) (*FITC, error) {
	if model == nil || model.Kind() != lik.KindGaussian {
		return nil, fmt.Errorf("%w: FITC inference requires a Gaussian likelihood", ErrLikelihoodKind)
	}
	gauss, ok := model.(*lik.Gaussian)
	if !ok {
		return nil, fmt.Errorf("%w: FITC inference requires a Gaussian likelihood", ErrLikelihoodKind)
	}
	if labels == nil || labels.Kind() != lab.KindRegression {
		return nil, fmt.Errorf("%w: FITC inference requires regression labels", ErrLabelKind)
	}
	n, _ := x.Dims()
	if z == nil {
		return nil, ErrNoInducing
	}
	if m, _ := z.Dims(); m == 0 {
		return nil, ErrNoInducing
	}
	if labels.Len() != n {
		return nil, fmt.Errorf("%w: %d labels for %d training points", ErrDimMismatch, labels.Len(), n)
	}
	f := &FITC{
		kernel:      kernel,
		mean:        mean,
		model:       gauss,
		labels:      labels,
		x:           x,
		z:           z,
		logScale:    0.0,
		logIndNoise: math.Log(1e-6), // Jitter.
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *FITC) Kind() Kind {
	return KindFITC
}

func (f *FITC) LogScale() float64 {
	return f.logScale
}

func (f *FITC) SetLogScale(logScale float64) {
	f.logScale = logScale
}

func (f *FITC) SetLogInducingNoise(logIndNoise float64) {
	f.logIndNoise = logIndNoise
}

// Likelihood returns the Gaussian likelihood model held by the engine.
func (f *FITC) Likelihood() *lik.Gaussian {
	return f.model
}

// RegisterMinimizer is a no-op: the engine's single noise
// hyperparameter has a closed-form gradient, so no iterative minimizer
// is consulted here. Outer optimization loops own that concern.
func (f *FITC) RegisterMinimizer(minimizer Minimizer) {
	f.logger.Warn("the method does not require a minimizer; the provided minimizer will not be used")
}

// paramsStamp hashes every hyperparameter the factorization depends on.
func (f *FITC) paramsStamp() uint64 {
	return utils.ParamsHash(
		[]float64{f.logScale, f.logIndNoise},
		f.model.Params(),
		f.kernel.Params(),
		f.mean.Params(),
	)
}

// refresh recomputes the factorization if any hyperparameter changed
// since the last update.
func (f *FITC) refresh() error {
	if f.factFresh && f.stamp == f.paramsStamp() {
		return nil
	}
	return f.Update()
}

// refreshGradient additionally recomputes the derivative-support
// quantities, once per hyperparameter generation.
func (f *FITC) refreshGradient() error {
	if err := f.refresh(); err != nil {
		return err
	}
	if f.gradFresh {
		return nil
	}
	f.updateDeriv()
	f.gradFresh = true
	return nil
}

// Update recomputes the Cholesky factors and posterior coefficients
// from the current hyperparameters. Covariance, mean and label
// providers are re-evaluated, never cached across calls. O(n*m^2).
func (f *FITC) Update() error {
	if err := f.updateChol(); err != nil {
		return err
	}
	f.updateAlpha()
	f.factFresh = true
	f.gradFresh = false
	f.stamp = f.paramsStamp()
	f.logger.Debug("updated factorization state",
		zap.Float64("log_scale", f.logScale),
		zap.Float64("log_ind_noise", f.logIndNoise),
		zap.Float64("sigma", f.model.Sigma()),
	)
	return nil
}

func (f *FITC) updateChol() error {
	n, _ := f.x.Dims()
	m, _ := f.z.Dims()
	c2 := math.Exp(2 * f.logScale)
	sigma := f.model.Sigma()

	f.kuu = f.kernel.Matrix(f.z, f.z)
	f.ktru = f.kernel.Matrix(f.z, f.x)
	f.ktrtrDiag = f.kernel.Diagonal(f.x)

	// Luu' * Luu = Kuu*c2 + indNoise*I
	indNoise := math.Exp(f.logIndNoise)
	kuuJit := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			val := c2 * f.kuu.At(i, j)
			if i == j {
				val += indNoise
			}
			kuuJit.SetSym(i, j, val)
		}
	}
	var cholKuu mat.Cholesky
	if ok := cholKuu.Factorize(kuuJit); !ok {
		return fmt.Errorf("inducing covariance: %w", ErrNotPositiveDefinite)
	}
	f.cholUU = mat.NewTriDense(m, mat.Upper, nil)
	cholKuu.UTo(f.cholUU)

	// V = Luu' \ (Ktru * c2)
	ku := mat.NewDense(m, n, nil)
	ku.Scale(c2, f.ktru)
	v := mat.NewDense(m, n, nil)
	if err := v.Solve(f.cholUU.T(), ku); err != nil {
		return fmt.Errorf("inducing factor solve: %w", ErrNotPositiveDefinite)
	}

	// t = 1 ./ (diag(Ktrtr)*c2 + sigma^2 - colsum(V.*V))
	f.t = mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		q := 0.0
		for i := 0; i < m; i++ {
			vij := v.At(i, j)
			q += vij * vij
		}
		dg := c2*f.ktrtrDiag.AtVec(j) + sigma*sigma - q
		if dg <= 0 {
			return fmt.Errorf("%w: entry %d of diag(K) + sigma^2 - diag(Q) is %g", ErrResidualVariance, j, dg)
		}
		f.t.SetVec(j, 1.0/dg)
	}

	// Lu' * Lu = V * diag(t) * V' + I
	vt := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			vt.Set(i, j, v.At(i, j)*f.t.AtVec(j))
		}
	}
	inner := mat.NewDense(m, m, nil)
	inner.Mul(vt, v.T())
	innerSym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			val := inner.At(i, j)
			if i == j {
				val += 1.0
			}
			innerSym.SetSym(i, j, val)
		}
	}
	var cholInner mat.Cholesky
	if ok := cholInner.Factorize(innerSym); !ok {
		return fmt.Errorf("whitened training covariance: %w", ErrNotPositiveDefinite)
	}
	f.cholUTr = mat.NewTriDense(m, mat.Upper, nil)
	cholInner.UTo(f.cholUTr)

	// r = (y - mean) .* sqrt(t)
	y := f.labels.Values()
	mv := f.mean.Vector(f.x)
	f.r = mat.NewVecDense(n, nil)
	rs := mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		sqrtT := math.Sqrt(f.t.AtVec(j))
		f.r.SetVec(j, (y.AtVec(j)-mv.AtVec(j))*sqrtT)
		rs.SetVec(j, f.r.AtVec(j)*sqrtT)
	}

	// be = Lu' \ (V * (r .* sqrt(t)))
	vr := mat.NewVecDense(m, nil)
	vr.MulVec(v, rs)
	f.be = mat.NewVecDense(m, nil)
	if err := f.be.SolveVec(f.cholUTr.T(), vr); err != nil {
		return fmt.Errorf("whitened residual solve: %w", ErrNotPositiveDefinite)
	}

	// iKuu = Luu \ (Luu' \ I)
	eye := utils.Eye(m)
	tmp := mat.NewDense(m, m, nil)
	iKuu := mat.NewDense(m, m, nil)
	tmp.Solve(f.cholUU.T(), eye)
	iKuu.Solve(f.cholUU, tmp)

	// L = solve_chol(Lu*Luu, I) - iKuu, via four triangular solves:
	// (Lu*Luu)' \ I, then (Lu*Luu) \ that.
	tmp2 := mat.NewDense(m, m, nil)
	tmp2.Solve(f.cholUU.T(), eye)
	tmp.Solve(f.cholUTr.T(), tmp2)
	tmp2.Solve(f.cholUTr, tmp)
	f.l = mat.NewDense(m, m, nil)
	f.l.Solve(f.cholUU, tmp2)
	f.l.Sub(f.l, iKuu)

	f.v = v
	return nil
}

func (f *FITC) updateAlpha() {
	m, _ := f.z.Dims()
	// alpha = Luu \ (Lu \ be), two O(m^2) triangular solves.
	tmp := mat.NewVecDense(m, nil)
	tmp.SolveVec(f.cholUTr, f.be)
	f.alpha = mat.NewVecDense(m, nil)
	f.alpha.SolveVec(f.cholUU, tmp)
}

func (f *FITC) updateDeriv() {
	n, _ := f.x.Dims()
	m, _ := f.z.Dims()
	c2 := math.Exp(2 * f.logScale)
	v := f.v

	y := f.labels.Values()
	mv := f.mean.Vector(f.x)

	// al = ((y - mean) - V' * (Lu \ be)) .* t
	lb := mat.NewVecDense(m, nil)
	lb.SolveVec(f.cholUTr, f.be)
	vtlb := mat.NewVecDense(n, nil)
	vtlb.MulVec(v.T(), lb)
	f.al = mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		f.al.SetVec(j, ((y.AtVec(j)-mv.AtVec(j))-vtlb.AtVec(j))*f.t.AtVec(j))
	}

	// iKuu = Luu \ (Luu' \ I)
	eye := utils.Eye(m)
	tmp := mat.NewDense(m, m, nil)
	iKuu := mat.NewDense(m, m, nil)
	tmp.Solve(f.cholUU.T(), eye)
	iKuu.Solve(f.cholUU, tmp)

	// B = iKuu * Ktru * c2
	f.b = mat.NewDense(m, n, nil)
	f.b.Mul(iKuu, f.ktru)
	f.b.Scale(c2, f.b)

	// w = B * al
	f.w = mat.NewVecDense(m, nil)
	f.w.MulVec(f.b, f.al)

	// Rvdd = Lu' \ (V * diag(t))
	vt := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			vt.Set(i, j, v.At(i, j)*f.t.AtVec(j))
		}
	}
	f.rvdd = mat.NewDense(m, n, nil)
	f.rvdd.Solve(f.cholUTr.T(), vt)

	f.logger.Debug("updated derivative state")
}

// NegLogMarginalLikelihood returns the FITC-approximated negative log
// marginal likelihood of the targets. O(m+n) given fresh state.
func (f *FITC) NegLogMarginalLikelihood() (float64, error) {
	if err := f.refresh(); err != nil {
		return 0, err
	}
	n := f.t.Len()
	m, _ := f.cholUTr.Dims()
	// nlZ = sum(log(diag(Lu))) + (-sum(log(t)) + r'*r - be'*be + n*log(2*pi)) / 2
	sumLogDiag := 0.0
	for i := 0; i < m; i++ {
		sumLogDiag += math.Log(f.cholUTr.At(i, i))
	}
	sumLogT := 0.0
	for j := 0; j < n; j++ {
		sumLogT += math.Log(f.t.AtVec(j))
	}
	nlZ := sumLogDiag + (-sumLogT+mat.Dot(f.r, f.r)-mat.Dot(f.be, f.be)+
		float64(n)*math.Log(2*math.Pi))/2
	return nlZ, nil
}

// DerivativeWrtLikelihoodParam returns the derivative of the negative
// log marginal likelihood with respect to a likelihood hyperparameter.
// Only log_sigma is supported. O(m*n).
func (f *FITC) DerivativeWrtLikelihoodParam(name string) (float64, error) {
	if name != lik.ParamLogSigma {
		return 0, fmt.Errorf("%w: cannot compute derivative wrt %q", ErrUnsupportedParam, name)
	}
	if err := f.refreshGradient(); err != nil {
		return 0, err
	}
	n := f.t.Len()
	m, _ := f.rvdd.Dims()
	// dnlZ/dlog_sigma = sigma^2 * (sum(t) - sum(Rvdd.*Rvdd) - al'*al)
	sumT := 0.0
	for j := 0; j < n; j++ {
		sumT += f.t.AtVec(j)
	}
	sumW2 := 0.0
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			wij := f.rvdd.At(i, j)
			sumW2 += wij * wij
		}
	}
	sigma := f.model.Sigma()
	return sigma * sigma * (sumT - sumW2 - mat.Dot(f.al, f.al)), nil
}

// DiagonalVector returns the effective noise precision 1/sigma for each
// training point.
func (f *FITC) DiagonalVector() (*mat.VecDense, error) {
	if err := f.refresh(); err != nil {
		return nil, err
	}
	n, _ := f.x.Dims()
	out := mat.NewVecDense(n, nil)
	sW := 1.0 / f.model.Sigma()
	for j := 0; j < n; j++ {
		out.SetVec(j, sW)
	}
	return out, nil
}

// PosteriorMean returns the FITC-approximated posterior mean at the
// training inputs. The exact equivalent-prior formula is intentionally
// not implemented; this engine always returns the approximation. O(m*n).
func (f *FITC) PosteriorMean() (*mat.VecDense, error) {
	if err := f.refreshGradient(); err != nil {
		return nil, err
	}
	n, _ := f.x.Dims()
	c2 := math.Exp(2 * f.logScale)
	// mu = c2 * Ktru' * alpha
	mu := mat.NewVecDense(n, nil)
	mu.MulVec(f.ktru.T(), f.alpha)
	mu.ScaleVec(c2, mu)
	return mu, nil
}

// PosteriorCovariance returns the FITC-approximated posterior
// covariance at the training inputs. This costs O(m*n^2), a factor n/m
// more than the factorization itself; call it sparingly.
func (f *FITC) PosteriorCovariance() (*mat.Dense, error) {
	if err := f.refreshGradient(); err != nil {
		return nil, err
	}
	n, _ := f.x.Dims()
	m, _ := f.z.Dims()
	c2 := math.Exp(2 * f.logScale)
	v := f.v

	// part1 = V' * (Lu \ I)
	luInv := mat.NewDense(m, m, nil)
	luInv.Solve(f.cholUTr, utils.Eye(m))
	part1 := mat.NewDense(n, m, nil)
	part1.Mul(v.T(), luInv)

	// Sigma = part1 * part1' + diag(diag(Ktrtr)*c2 - colsum(V.*V))
	cov := mat.NewDense(n, n, nil)
	cov.Mul(part1, part1.T())
	for j := 0; j < n; j++ {
		q := 0.0
		for i := 0; i < m; i++ {
			vij := v.At(i, j)
			q += vij * vij
		}
		cov.Set(j, j, cov.At(j, j)+c2*f.ktrtrDiag.AtVec(j)-q)
	}
	return cov, nil
}

// PosteriorPrecisionDelta returns the posterior precision correction
// (Kuu_jit + Q)^-1-style term computed during the update. It is kept
// for downstream derivative consumers; nothing in this module reads it.
func (f *FITC) PosteriorPrecisionDelta() (*mat.Dense, error) {
	if err := f.refresh(); err != nil {
		return nil, err
	}
	return f.l, nil
}

// Alpha returns the cached posterior weight vector.
func (f *FITC) Alpha() (*mat.VecDense, error) {
	if err := f.refresh(); err != nil {
		return nil, err
	}
	return f.alpha, nil
}
