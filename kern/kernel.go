package kern

import (
	"gonum.org/v1/gonum/mat"
)

// Kernel is a covariance function over feature vectors. Feature sets
// are dense matrices with one point per row.
type Kernel interface {
	// Covariance matrix between the rows of X and the rows of Z,
	// :math:`K_{ij} = k(x_i, z_j)`.
	Matrix(X, Z mat.Matrix) *mat.Dense

	// Diagonal of the covariance matrix of X with itself.
	Diagonal(X mat.Matrix) *mat.VecDense

	// Kernel hyperparameters, in a fixed order.
	Params() []float64
}
