package lab

import (
	"gonum.org/v1/gonum/mat"
)

// Kind identifies the concrete label container behind a Labels value.
type Kind int

const (
	KindRegression Kind = iota
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindRegression:
		return "regression"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Labels is a container of training targets with a kind tag.
type Labels interface {
	Kind() Kind
	Values() *mat.VecDense
	Len() int
}

var (
	regression *Regression
	_          Labels = regression // Check that Regression respects the Labels interface.
)

// Regression holds real-valued targets.
type Regression struct {
	values *mat.VecDense
}

func NewRegression(values []float64) *Regression {
	data := make([]float64, len(values))
	copy(data, values)
	return &Regression{
		values: mat.NewVecDense(len(data), data),
	}
}

func (r *Regression) Kind() Kind {
	return KindRegression
}

func (r *Regression) Values() *mat.VecDense {
	return r.values
}

func (r *Regression) Len() int {
	return r.values.Len()
}

var (
	binary *Binary
	_      Labels = binary // Check that Binary respects the Labels interface.
)

// Binary holds +1/-1 targets.
type Binary struct {
	values *mat.VecDense
}

func NewBinary(values []float64) *Binary {
	data := make([]float64, len(values))
	copy(data, values)
	return &Binary{
		values: mat.NewVecDense(len(data), data),
	}
}

func (b *Binary) Kind() Kind {
	return KindBinary
}

func (b *Binary) Values() *mat.VecDense {
	return b.values
}

func (b *Binary) Len() int {
	return b.values.Len()
}
