package kern

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	matern12 *Matern12
	_        Kernel = matern12 // Check that Matern12 respects the Kernel interface.
)

type Matern12 struct {
	variance float64
	lscale   float64
}

func NewMatern12(variance, lscale float64) *Matern12 {
	return &Matern12{
		variance: variance,
		lscale:   lscale,
	}
}

func (k *Matern12) Matrix(X, Z mat.Matrix) *mat.Dense {
	n, d := X.Dims()
	m, _ := Z.Dims()
	out := mat.NewDense(n, m, nil)
	xi := make([]float64, d)
	zj := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(xi, i, X)
		for j := 0; j < m; j++ {
			mat.Row(zj, j, Z)
			// k(x, z) = variance * exp(-|x - z| / lscale)
			r := floats.Distance(xi, zj, 2)
			out.Set(i, j, k.variance*math.Exp(-r/k.lscale))
		}
	}
	return out
}

func (k *Matern12) Diagonal(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, k.variance)
	}
	return out
}

func (k *Matern12) Params() []float64 {
	return []float64{k.variance, k.lscale}
}
