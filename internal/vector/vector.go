// Package vector holds small numeric helpers shared by the training
// and retrieval pipelines.
package vector

import "math"

// Cosine computes cosine similarity between two vectors. Mismatched
// lengths are trimmed to the shorter vector to tolerate upstream model
// drift; empty or zero-norm vectors yield 0 rather than an error.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
