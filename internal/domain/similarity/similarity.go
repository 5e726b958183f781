// Package similarity implements the scoring rule local vector stores use:
// cosine per vector pair, folded with max across all query and stored sub-vectors.
package similarity

import (
	"math"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

// Cosine returns the cosine similarity of two equal-length vectors.
// A zero vector has similarity 0 with everything.
func Cosine(a, b []float32) float64 {
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

// MaxSim returns the maximum cosine similarity over every (query, stored) sub-vector pair.
// Not a mean and not a sum of per-query maxima.
func MaxSim(query, stored domain.Embedding) float64 {
	best := math.Inf(-1)
	for _, q := range query {
		for _, s := range stored {
			if c := Cosine(q, s); c > best {
				best = c
			}
		}
	}
	if math.IsInf(best, -1) {
		return 0
	}
	return best
}
