package points

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/pagedex/internal/domain"
	domcol "github.com/kailas-cloud/pagedex/internal/domain/collection"
)

func TestCreateCollection_Twice(t *testing.T) {
	r, _ := newTestRepo(t)

	col, _ := domcol.New("demo", testDim)
	err := r.CreateCollection(context.Background(), col)
	if !errors.Is(err, domain.ErrCollectionAlreadyExists) {
		t.Fatalf("expected ErrCollectionAlreadyExists, got %v", err)
	}
}

func TestCreateCollection_StoreDown(t *testing.T) {
	fs := newFakeStore()
	fs.hsetnxErr = errors.New("connection refused")
	r := New(fs, "test:")

	col, _ := domcol.New("demo", testDim)
	err := r.CreateCollection(context.Background(), col)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestCreateCollection_RollbackOnSchemaWriteFailure(t *testing.T) {
	fs := newFakeStore()
	fs.hsetErr = errors.New("OOM")
	r := New(fs, "test:")

	col, _ := domcol.New("demo", testDim)
	if err := r.CreateCollection(context.Background(), col); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(fs.delCalls) != 1 || fs.delCalls[0][0] != "test:collection:demo" {
		t.Fatalf("expected rollback DEL of schema key, got %v", fs.delCalls)
	}

	fs.hsetErr = nil
	if err := r.CreateCollection(context.Background(), col); err != nil {
		t.Fatalf("create after rollback: %v", err)
	}
}

func TestCollectionExists(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	ok, err := r.CollectionExists(ctx, "demo")
	if err != nil || !ok {
		t.Fatalf("CollectionExists(demo) = %v, %v", ok, err)
	}
	ok, err = r.CollectionExists(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("CollectionExists(missing) = %v, %v", ok, err)
	}
}

func TestSearch_RanksByMaxSim(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	for i := range 3 {
		if err := r.Upsert(ctx, "demo", testPoint(i, oneHot(i))); err != nil {
			t.Fatalf("Upsert(%d): %v", i, err)
		}
	}

	hits, err := r.Search(ctx, "demo", oneHot(1), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Payload.Index != 1 || hits[0].ID != 1 {
		t.Errorf("expected page 1 on top, got %+v", hits[0])
	}
	if hits[0].Score < 0.99 {
		t.Errorf("expected near-perfect score, got %v", hits[0].Score)
	}
}

func TestSearch_TopKLargerThanCollection(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	for i := range 2 {
		if err := r.Upsert(ctx, "demo", testPoint(i, oneHot(i))); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	hits, err := r.Search(ctx, "demo", oneHot(0), 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected all 2 points, got %d", len(hits))
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not sorted descending: %+v", hits)
	}
}

func TestSearch_InvalidTopK(t *testing.T) {
	r, fs := newTestRepo(t)

	_, err := r.Search(context.Background(), "demo", oneHot(0), 0)
	if !errors.Is(err, domain.ErrInvalidTopK) {
		t.Fatalf("expected ErrInvalidTopK, got %v", err)
	}
	if fs.scanCalls != 0 {
		t.Errorf("validation must happen before any store call, got %d scans", fs.scanCalls)
	}
}

func TestSearch_EmptyCollection(t *testing.T) {
	r, _ := newTestRepo(t)

	hits, err := r.Search(context.Background(), "demo", oneHot(0), 5)
	if err != nil {
		t.Fatalf("expected no error on empty collection, got %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", hits)
	}
}

func TestSearch_UnknownCollection(t *testing.T) {
	r, _ := newTestRepo(t)

	_, err := r.Search(context.Background(), "nope", oneHot(0), 5)
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestSearch_StoreUnavailable(t *testing.T) {
	r, fs := newTestRepo(t)
	fs.scanErr = errors.New("i/o timeout")

	_, err := r.Search(context.Background(), "demo", oneHot(0), 5)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestUpsert_ReplacesByID(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	first := testPoint(3, oneHot(0))
	second := testPoint(3, oneHot(0))
	second.Payload.SourceName = "revised.pdf"

	if err := r.Upsert(ctx, "demo", first); err != nil {
		t.Fatalf("Upsert first: %v", err)
	}
	if err := r.Upsert(ctx, "demo", second); err != nil {
		t.Fatalf("Upsert second: %v", err)
	}

	hits, err := r.Search(ctx, "demo", oneHot(0), 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected a single point for id 3, got %d", len(hits))
	}
	if hits[0].Payload.SourceName != "revised.pdf" {
		t.Errorf("expected latest payload, got %+v", hits[0].Payload)
	}
}

func TestUpsert_DimMismatch(t *testing.T) {
	r, _ := newTestRepo(t)

	err := r.Upsert(context.Background(), "demo", testPoint(0, domain.Embedding{{1, 2}}))
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestUpsert_UnquantizedKeepsExactScores(t *testing.T) {
	r, _ := newTestRepo(t, domcol.WithQuantization(domcol.QuantizationNone, 0, false))
	ctx := context.Background()

	emb := domain.Embedding{{0.3, -0.2, 0.9, 0.1}}
	if err := r.Upsert(ctx, "demo", testPoint(0, emb)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	hits, err := r.Search(ctx, "demo", emb, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if diff := hits[0].Score - 1; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected self-similarity 1, got %v", hits[0].Score)
	}
}

func TestDeleteCollection(t *testing.T) {
	r, fs := newTestRepo(t)
	ctx := context.Background()

	for i := range 3 {
		if err := r.Upsert(ctx, "demo", testPoint(i, oneHot(i))); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if n, err := r.Count(ctx, "demo"); err != nil || n != 3 {
		t.Fatalf("Count = %d, %v; want 3", n, err)
	}

	if err := r.DeleteCollection(ctx, "demo"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	if len(fs.hashes) != 0 {
		t.Errorf("expected all keys removed, left %d", len(fs.hashes))
	}
	if _, err := r.Count(ctx, "demo"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound after delete, got %v", err)
	}

	col, _ := domcol.New("demo", testDim)
	if err := r.CreateCollection(ctx, col); err != nil {
		t.Fatalf("re-create after delete: %v", err)
	}
}

func TestDeleteCollection_SeenByOtherRepo(t *testing.T) {
	a, fs := newTestRepo(t)
	b := New(fs, "test:")
	ctx := context.Background()

	// a has already resolved the schema before b drops the collection
	if err := a.Upsert(ctx, "demo", testPoint(0, oneHot(0))); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := b.DeleteCollection(ctx, "demo"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}

	ok, err := a.CollectionExists(ctx, "demo")
	if err != nil || ok {
		t.Fatalf("CollectionExists after delete elsewhere = %v, %v; want false", ok, err)
	}
	if err := a.Upsert(ctx, "demo", testPoint(1, oneHot(1))); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound on upsert, got %v", err)
	}
	if _, err := a.Search(ctx, "demo", oneHot(0), 1); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound on search, got %v", err)
	}
	if len(fs.hashes) != 0 {
		t.Errorf("expected no orphan keys, left %d", len(fs.hashes))
	}

	col, _ := domcol.New("demo", testDim)
	if err := a.CreateCollection(ctx, col); err != nil {
		t.Fatalf("re-create after delete elsewhere: %v", err)
	}
}
