package kern

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	sqExp *SqExp
	_     Kernel = sqExp // Check that SqExp respects the Kernel interface.
)

// Squared-exponential (RBF) covariance.
type SqExp struct {
	variance float64
	gamma    float64
}

func NewSqExp(variance, lscale float64) *SqExp {
	return &SqExp{
		variance: variance,
		gamma:    1.0 / (2.0 * lscale * lscale),
	}
}

func (k *SqExp) Matrix(X, Z mat.Matrix) *mat.Dense {
	n, d := X.Dims()
	m, _ := Z.Dims()
	out := mat.NewDense(n, m, nil)
	xi := make([]float64, d)
	zj := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(xi, i, X)
		for j := 0; j < m; j++ {
			mat.Row(zj, j, Z)
			// k(x, z) = variance * exp(-|x - z|^2 / (2 * lscale^2))
			dist := floats.Distance(xi, zj, 2)
			out.Set(i, j, k.variance*math.Exp(-k.gamma*dist*dist))
		}
	}
	return out
}

func (k *SqExp) Diagonal(X mat.Matrix) *mat.VecDense {
	n, _ := X.Dims()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, k.variance)
	}
	return out
}

func (k *SqExp) Params() []float64 {
	return []float64{k.variance, k.gamma}
}
