package means

import (
	"gonum.org/v1/gonum/mat"
)

// Mean is a prior mean function over feature vectors. Feature sets are
// dense matrices with one point per row.
type Mean interface {
	// Mean vector at the rows of X.
	Vector(X mat.Matrix) *mat.VecDense

	// Mean hyperparameters, in a fixed order.
	Params() []float64
}

var (
	zero *Zero
	_    Mean = zero // Check that Zero respects the Mean interface.

	constant *Constant
	_        Mean = constant // Check that Constant respects the Mean interface.
)

type Zero struct{}

func NewZero() *Zero {
	return &Zero{}
}

func (m *Zero) Vector(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	return mat.NewVecDense(n, nil)
}

func (m *Zero) Params() []float64 {
	return nil
}

type Constant struct {
	value float64
}

func NewConstant(value float64) *Constant {
	return &Constant{
		value: value,
	}
}

func (m *Constant) Vector(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, m.value)
	}
	return out
}

func (m *Constant) Params() []float64 {
	return []float64{m.value}
}
