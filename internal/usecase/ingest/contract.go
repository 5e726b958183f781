package ingest

import (
	"context"

	domcol "github.com/kailas-cloud/pagedex/internal/domain/collection"
	"github.com/kailas-cloud/pagedex/internal/domain/point"
)

// Store is the vector store contract the pipeline writes to.
// Upserts may arrive concurrently and in any order.
type Store interface {
	CreateCollection(ctx context.Context, col domcol.Collection) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	Upsert(ctx context.Context, collection string, p point.Point) error
}
