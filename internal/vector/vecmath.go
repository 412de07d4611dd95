package vector

import "gonum.org/v1/gonum/blas/blas32"

func asBLASVector(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Inc: 1, Data: v}
}

// dotProduct is the raw BLAS dot product of two vectors. It is the
// similarity score itself for a dot collection (normalized to unit length at
// ingest, see normalizeInPlace) but needs dividing by the operands' norms to
// become cosine similarity for a cosine collection; see segment.score.
func dotProduct(a, b []float32) float32 {
	return blas32.Dot(asBLASVector(a), asBLASVector(b))
}

func l2Norm(v []float32) float32 {
	return blas32.Nrm2(asBLASVector(v))
}

// normalizeInPlace scales v to unit length. A zero vector is left as-is.
func normalizeInPlace(v []float32) {
	n := l2Norm(v)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}
