package training

import "github.com/knowbase/knowbase/internal/vector"

// CosineSimilarity is re-exported for the relation builder; see the
// vector package for the trimming and zero-norm semantics.
func CosineSimilarity(a, b []float32) float64 {
	return vector.Cosine(a, b)
}
