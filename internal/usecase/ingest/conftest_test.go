package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kailas-cloud/pagedex/internal/domain"
	domcol "github.com/kailas-cloud/pagedex/internal/domain/collection"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/point"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

const testDim = 8

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

// stubGateway derives deterministic embeddings: a page image carries its index
// in pixel (0,0), and the query "page-N" embeds exactly like page N.
type stubGateway struct {
	failIndex map[int]int // index -> remaining failures
	mu        sync.Mutex
	calls     atomic.Int32
	onImage   func(index int)
}

func newStubGateway() *stubGateway {
	return &stubGateway{failIndex: map[int]int{}}
}

func stubEmbedding(index int) domain.Embedding {
	a := make([]float32, testDim)
	b := make([]float32, testDim)
	a[index%testDim] = 1
	b[(index+1)%testDim] = 0.5
	b[index%testDim] = 0.5
	return domain.Embedding{a, b}
}

func (g *stubGateway) EmbedQuery(_ context.Context, text string) (domain.Embedding, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(text, "page-"))
	if err != nil {
		return nil, &domain.EmbeddingServiceError{Op: "query", StatusCode: 422}
	}
	return stubEmbedding(n), nil
}

func (g *stubGateway) EmbedImage(_ context.Context, img image.Image) (domain.Embedding, error) {
	g.calls.Add(1)
	index := int(img.(*image.Gray).GrayAt(0, 0).Y)
	if g.onImage != nil {
		g.onImage(index)
	}

	g.mu.Lock()
	remaining := g.failIndex[index]
	if remaining != 0 {
		if remaining > 0 {
			g.failIndex[index] = remaining - 1
		}
		g.mu.Unlock()
		return nil, &domain.EmbeddingServiceError{Op: "image", StatusCode: 503}
	}
	g.mu.Unlock()
	return stubEmbedding(index), nil
}

// failAlways makes every call for index fail.
func (g *stubGateway) failAlways(index int) { g.failIndex[index] = -1 }

func testPages(source string, n int) []page.Page {
	pages := make([]page.Page, n)
	for i := range n {
		img := image.NewGray(image.Rect(0, 0, 2, 2))
		img.SetGray(0, 0, color.Gray{Y: uint8(i)}) //nolint:gosec // test page counts are small
		pages[i] = page.New(i, source, i+1, img, fmt.Sprintf("text %d", i))
	}
	return pages
}

// recordingStore wraps a store and can fail selected upserts or creation.
type recordingStore struct {
	Store
	createErr error
	upsertErr map[uint64]error
	mu        sync.Mutex
	upserted  []uint64
}

func (s *recordingStore) CreateCollection(ctx context.Context, col domcol.Collection) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.CreateCollection(ctx, col)
}

func (s *recordingStore) Upsert(ctx context.Context, collection string, p point.Point) error {
	if err := s.upsertErr[p.ID]; err != nil {
		return err
	}
	s.mu.Lock()
	s.upserted = append(s.upserted, p.ID)
	s.mu.Unlock()
	return s.Store.Upsert(ctx, collection, p)
}

var errStoreDown = errors.New("store down")

func testConfig() Config {
	return Config{Dim: testDim, Workers: 1, MaxAttempts: 1}
}
