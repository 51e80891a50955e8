package utils

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Identity Matrix.
func Eye(n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}

// ParamsHash computes an opaque version stamp over groups of
// hyperparameter values. The stamp changes whenever any value (or the
// grouping) changes; it carries no other meaning.
func ParamsHash(groups ...[]float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, group := range groups {
		for _, val := range group {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(val))
			h.Write(buf[:])
		}
		// Group separator, so that regrouping the same values
		// yields a different stamp.
		h.Write([]byte{0xff})
	}
	return h.Sum64()
}
