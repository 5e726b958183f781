package point

import (
	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
)

// Payload is the page identity stored next to a point's vectors.
type Payload struct {
	Index      int    `json:"index"`
	SourceName string `json:"source_name"`
	PageNumber int    `json:"page_number"`
}

// Point is a stored (embedding, payload) pair. ID equals Payload.Index.
type Point struct {
	ID        uint64
	Embedding domain.Embedding
	Payload   Payload
}

// FromPage builds the point for an embedded page.
func FromPage(p page.Page, emb domain.Embedding) Point {
	return Point{
		ID:        uint64(p.Index()), //nolint:gosec // page indexes are assigned from 0 upward
		Embedding: emb,
		Payload: Payload{
			Index:      p.Index(),
			SourceName: p.SourceName(),
			PageNumber: p.PageNumber(),
		},
	}
}
