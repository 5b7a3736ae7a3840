package utils

import "math"

// NormalizeL2 scales an embedding in place to unit length, so Euclidean distance between
// two normalized embeddings ranks the same as cosine similarity. The sum is accumulated
// in float64. A zero vector is left as is.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range x {
		x[i] = float32(float64(x[i]) * inv)
	}
}
