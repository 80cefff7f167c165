package matcher

import "math"

// EuclideanDistance computes the L2 distance between two embeddings.
// Callers must pass vectors of equal length; the registry enforces this.
func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Confidence converts a match distance into the score reported to clients.
func Confidence(distance float64) float64 {
	return 1 - distance
}
