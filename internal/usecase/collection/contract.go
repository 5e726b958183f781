package collection

import (
	"context"
	"io"

	dingest "github.com/kailas-cloud/pagedex/internal/domain/ingest"
	dommanifest "github.com/kailas-cloud/pagedex/internal/domain/manifest"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/loader"
	"github.com/kailas-cloud/pagedex/internal/usecase/ingest"
)

// Manifests stores collection manifests and the uploaded documents next to them.
type Manifests interface {
	Save(ctx context.Context, m dommanifest.Manifest) error
	Get(ctx context.Context, name string) (dommanifest.Manifest, error)
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]dommanifest.Manifest, error)
	SaveFile(ctx context.Context, name, filename string, r io.Reader) (string, error)
	Delete(ctx context.Context, name string) error
}

// Pages is the page dataset.
type Pages interface {
	Write(ctx context.Context, collection string, pages []page.Page) error
	Get(ctx context.Context, collection string, index int) (page.Record, error)
	Count(ctx context.Context, collection string) (int, error)
}

// Loader turns saved documents into pages.
type Loader interface {
	LoadFiles(ctx context.Context, paths []string, firstIndex int) (loader.Batch, error)
}

// Ingester embeds and stores pages.
type Ingester interface {
	Ingest(ctx context.Context, collection string, pages []page.Page, opts ingest.Options) (dingest.Report, error)
}

// Store is the subset of the vector store the lifecycle needs.
type Store interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	DeleteCollection(ctx context.Context, name string) error
	Count(ctx context.Context, name string) (int, error)
}
