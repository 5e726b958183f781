package domain

import (
	"context"
	"fmt"
	"image"
)

// Embedding is a multi-vector: an ordered sequence of equal-length float vectors
// produced for one page image or one query string.
type Embedding [][]float32

// Dim returns the sub-vector length, or 0 for an empty embedding.
func (e Embedding) Dim() int {
	if len(e) == 0 {
		return 0
	}
	return len(e[0])
}

// Validate checks that the embedding is non-empty and rectangular.
// A positive dim additionally pins the expected sub-vector length.
func (e Embedding) Validate(dim int) error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrVectorDimMismatch)
	}
	want := dim
	if want <= 0 {
		want = len(e[0])
	}
	if want == 0 {
		return fmt.Errorf("%w: zero-length vectors", ErrVectorDimMismatch)
	}
	for i, row := range e {
		if len(row) != want {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrVectorDimMismatch, i, len(row), want)
		}
	}
	return nil
}

// Clone returns a deep copy so stores can keep embeddings without aliasing caller memory.
func (e Embedding) Clone() Embedding {
	out := make(Embedding, len(e))
	for i, row := range e {
		out[i] = append([]float32(nil), row...)
	}
	return out
}

// Gateway turns page images and query text into multi-vector embeddings.
// Calls are remote and slow; implementations must bound them with a timeout.
type Gateway interface {
	EmbedQuery(ctx context.Context, text string) (Embedding, error)
	EmbedImage(ctx context.Context, img image.Image) (Embedding, error)
}
