package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrEmptyInput is returned when asked to embed blank text.
var ErrEmptyInput = errors.New("embedding: empty input")

// Service turns text into a fixed-length vector. Implementations must be
// deterministic for identical input.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// has zero length or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}
