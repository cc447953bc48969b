package embedding

import "math"

// AdaptDimensions reconciles vector-length drift between the gateway and
// the store. Short vectors are zero-padded, long ones truncated. A
// mismatched vector is always adapted before comparison, never dropped.
func AdaptDimensions(vec []float32, dims int) []float32 {
	if dims <= 0 || len(vec) == dims {
		return vec
	}
	out := make([]float32, dims)
	copy(out, vec)
	return out
}

// CosineSimilarity returns the cosine similarity of a and b in [-1,1].
// Vectors of different lengths are adapted to the longer one first.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		if len(a) < len(b) {
			a = AdaptDimensions(a, len(b))
		} else {
			b = AdaptDimensions(b, len(a))
		}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
