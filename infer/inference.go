package infer

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotPositiveDefinite = errors.New("covariance matrix is not positive definite")
	ErrResidualVariance    = errors.New("non-positive residual variance")
	ErrUnsupportedParam    = errors.New("unsupported likelihood parameter")
	ErrLikelihoodKind      = errors.New("unsupported likelihood kind")
	ErrLabelKind           = errors.New("unsupported label kind")
	ErrInferenceKind       = errors.New("inference kind mismatch")
	ErrNoInducing          = errors.New("empty inducing feature set")
	ErrDimMismatch         = errors.New("dimension mismatch")
)

// Kind identifies the concrete inference method behind an Inference
// value.
type Kind int

const (
	KindExact Kind = iota
	KindFITC
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindFITC:
		return "fitc"
	default:
		return "unknown"
	}
}

// Inference is a Gaussian-process inference method over a fixed
// training set.
type Inference interface {
	Kind() Kind

	// Recompute the factorization state from the current
	// hyperparameters.
	Update() error

	// Negative log marginal likelihood of the targets.
	NegLogMarginalLikelihood() (float64, error)

	// Posterior mean at the training inputs.
	PosteriorMean() (*mat.VecDense, error)

	// Posterior covariance at the training inputs.
	PosteriorCovariance() (*mat.Dense, error)
}

// Minimizer is an iterative optimizer over hyperparameter vectors.
type Minimizer interface {
	Minimize(objective func(params []float64) float64, init []float64) []float64
}

// AsFITC converts a generic Inference into the FITC engine. The
// conversion fails on nil values and on any other inference kind.
func AsFITC(inf Inference) (*FITC, error) {
	if inf == nil {
		return nil, fmt.Errorf("%w: nil inference", ErrInferenceKind)
	}
	if inf.Kind() != KindFITC {
		return nil, fmt.Errorf("%w: want %v, got %v", ErrInferenceKind, KindFITC, inf.Kind())
	}
	return inf.(*FITC), nil
}

// AsExact converts a generic Inference into the exact dense engine.
func AsExact(inf Inference) (*Exact, error) {
	if inf == nil {
		return nil, fmt.Errorf("%w: nil inference", ErrInferenceKind)
	}
	if inf.Kind() != KindExact {
		return nil, fmt.Errorf("%w: want %v, got %v", ErrInferenceKind, KindExact, inf.Kind())
	}
	return inf.(*Exact), nil
}
