package retrieval

import (
	"context"
	"image"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
)

// Searcher is the vector store read contract.
type Searcher interface {
	Search(ctx context.Context, collection string, query domain.Embedding, topK int) ([]result.Hit, error)
}

// PageReader looks pages up in the page dataset by index.
type PageReader interface {
	GetMany(ctx context.Context, collection string, indexes []int) (map[int]page.Record, error)
}

// Interpreter answers a question over one page image.
type Interpreter interface {
	Ask(ctx context.Context, query string, img image.Image) (string, error)
}
