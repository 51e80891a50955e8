package kern

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	matern32 *Matern32
	_        Kernel = matern32 // Check that Matern32 respects the Kernel interface.
)

type Matern32 struct {
	variance float64
	lambda   float64
}

func NewMatern32(variance, lscale float64) *Matern32 {
	return &Matern32{
		variance: variance,
		lambda:   math.Sqrt(3) / lscale,
	}
}

func (k *Matern32) Matrix(X, Z mat.Matrix) *mat.Dense {
	n, d := X.Dims()
	m, _ := Z.Dims()
	out := mat.NewDense(n, m, nil)
	xi := make([]float64, d)
	zj := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(xi, i, X)
		for j := 0; j < m; j++ {
			mat.Row(zj, j, Z)
			// k(x, z) = variance * (1 + a*r) * exp(-a*r), a = sqrt(3)/lscale
			ar := k.lambda * floats.Distance(xi, zj, 2)
			out.Set(i, j, k.variance*(1+ar)*math.Exp(-ar))
		}
	}
	return out
}

func (k *Matern32) Diagonal(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, k.variance)
	}
	return out
}

func (k *Matern32) Params() []float64 {
	return []float64{k.variance, k.lambda}
}
