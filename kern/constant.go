package kern

import (
	"gonum.org/v1/gonum/mat"
)

var (
	constant *Constant
	_        Kernel = constant // Check that Constant respects the Kernel interface.
)

type Constant struct {
	variance float64
}

func NewConstant(variance float64) *Constant {
	return &Constant{
		variance: variance,
	}
}

func (k *Constant) Matrix(X, Z mat.Matrix) *mat.Dense {
	n, _ := X.Dims()
	m, _ := Z.Dims()
	out := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			out.Set(i, j, k.variance)
		}
	}
	return out
}

func (k *Constant) Diagonal(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, k.variance)
	}
	return out
}

func (k *Constant) Params() []float64 {
	return []float64{k.variance}
}
