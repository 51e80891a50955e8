package lik

import (
	"math"
)

// Kind identifies the concrete likelihood model behind a Likelihood
// value.
type Kind int

const (
	KindGaussian Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KindGaussian:
		return "gaussian"
	default:
		return "unknown"
	}
}

// ParamLogSigma is the name of the Gaussian noise hyperparameter for
// gradient queries.
const ParamLogSigma = "log_sigma"

// Likelihood is an observation model with a kind tag and a flat
// hyperparameter view.
type Likelihood interface {
	Kind() Kind

	// Likelihood hyperparameters, in a fixed order.
	Params() []float64
}

var (
	gaussian *Gaussian
	_        Likelihood = gaussian // Check that Gaussian respects the Likelihood interface.
)

// Gaussian observation noise with scale sigma, parameterized by
// log(sigma).
type Gaussian struct {
	logSigma float64
}

func NewGaussian(sigma float64) *Gaussian {
	return &Gaussian{
		logSigma: math.Log(sigma),
	}
}

func (l *Gaussian) Kind() Kind {
	return KindGaussian
}

func (l *Gaussian) Sigma() float64 {
	return math.Exp(l.logSigma)
}

func (l *Gaussian) LogSigma() float64 {
	return l.logSigma
}

func (l *Gaussian) SetLogSigma(logSigma float64) {
	l.logSigma = logSigma
}

func (l *Gaussian) Params() []float64 {
	return []float64{l.logSigma}
}
