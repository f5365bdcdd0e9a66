// Package embedding turns text into sparse tf-idf weight vectors.
package embedding

import "math"

// SparseVector is a weight vector stored as parallel index/value slices.
// Indices are strictly ascending.
type SparseVector struct {
	Indices []int
	Values  []float64
}

// Len returns the number of non-zero entries.
func (v SparseVector) Len() int {
	return len(v.Indices)
}

// Norm returns the Euclidean length of the vector.
func (v SparseVector) Norm() float64 {
	var sum float64
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Dot returns the inner product of two sparse vectors.
func (v SparseVector) Dot(o SparseVector) float64 {
	var dot float64
	i, j := 0, 0
	for i < len(v.Indices) && j < len(o.Indices) {
		switch {
		case v.Indices[i] == o.Indices[j]:
			dot += v.Values[i] * o.Values[j]
			i++
			j++
		case v.Indices[i] < o.Indices[j]:
			i++
		default:
			j++
		}
	}
	return dot
}

// Dense expands the vector to the given dimensionality.
func (v SparseVector) Dense(dim int) []float64 {
	out := make([]float64, dim)
	for k, idx := range v.Indices {
		if idx < dim {
			out[idx] = v.Values[k]
		}
	}
	return out
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 when either vector has zero length.
func CosineSimilarity(a, b SparseVector) float64 {
	denominator := a.Norm() * b.Norm()
	if denominator == 0 {
		return 0
	}
	return a.Dot(b) / denominator
}
