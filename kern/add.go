package kern

import (
	"gonum.org/v1/gonum/mat"
)

var (
	add *Add
	_   Kernel = add // Check that Add respects the Kernel interface.
)

// Sum of kernels.
type Add struct {
	parts []Kernel
}

func NewAdd(first, second Kernel) *Add {
	parts := make([]Kernel, 0, 2)
	switch first := first.(type) {
	case *Add:
		parts = append(parts, first.parts...)
	default:
		parts = append(parts, first)
	}
	switch second := second.(type) {
	case *Add:
		parts = append(parts, second.parts...)
	default:
		parts = append(parts, second)
	}
	return &Add{
		parts: parts,
	}
}

func (k *Add) Matrix(X, Z mat.Matrix) *mat.Dense {
	out := k.parts[0].Matrix(X, Z)
	for _, part := range k.parts[1:] {
		out.Add(out, part.Matrix(X, Z))
	}
	return out
}

func (k *Add) Diagonal(X mat.Matrix) *mat.VecDense {
	out := k.parts[0].Diagonal(X)
	for _, part := range k.parts[1:] {
		out.AddVec(out, part.Diagonal(X))
	}
	return out
}

func (k *Add) Params() []float64 {
	params := make([]float64, 0, 2*len(k.parts))
	for _, part := range k.parts {
		params = append(params, part.Params()...)
	}
	return params
}
