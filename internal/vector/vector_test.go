package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineIdenticalVectors(t *testing.T) {
	v := []float32{0.5, 0.25, 0.8}
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
}

func TestCosineOrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, Cosine(a, b), 1e-9)
}

func TestCosineOppositeVectors(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-1, -2, -3}
	assert.InDelta(t, -1.0, Cosine(a, b), 1e-9)
}

func TestCosineSymmetry(t *testing.T) {
	a := []float32{0.3, 0.7, 0.1, 0.9}
	b := []float32{0.8, 0.2, 0.5, 0.4}
	assert.Equal(t, Cosine(a, b), Cosine(b, a))
}

func TestCosineZeroNorm(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	assert.Zero(t, Cosine(a, b))
	assert.Zero(t, Cosine(b, a))
}

func TestCosineEmptyVectors(t *testing.T) {
	assert.Zero(t, Cosine(nil, nil))
	assert.Zero(t, Cosine([]float32{1}, nil))
}

func TestCosineMismatchedLengthsTrimmed(t *testing.T) {
	a := []float32{1, 0, 5, 5, 5}
	b := []float32{1, 0}
	// Only the shared prefix contributes.
	assert.InDelta(t, 1.0, Cosine(a[:2], b), 1e-9)
	assert.NotPanics(t, func() { Cosine(a, b) })
}
