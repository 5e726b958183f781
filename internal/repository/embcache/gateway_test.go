package embcache

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/db"
	"github.com/kailas-cloud/pagedex/internal/domain"
)

type mockGateway struct {
	emb        domain.Embedding
	err        error
	queryCalls int
	imageCalls int
}

func (m *mockGateway) EmbedQuery(_ context.Context, _ string) (domain.Embedding, error) {
	m.queryCalls++
	return m.emb, m.err
}

func (m *mockGateway) EmbedImage(_ context.Context, _ image.Image) (domain.Embedding, error) {
	m.imageCalls++
	return m.emb, m.err
}

// mockKVStore is an in-memory store with optional failure injection.
type mockKVStore struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMockKVStore() *mockKVStore {
	return &mockKVStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockKVStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockKVStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func newCacheCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
}

func TestEmbedQuery_MissThenHit(t *testing.T) {
	inner := &mockGateway{emb: domain.Embedding{{0.1, 0.2}, {0.3, 0.4}}}
	ms := newMockKVStore()
	counter := newCacheCounter()
	cg := New(inner, ms, "pagedex:", time.Hour, counter, zap.NewNop())
	ctx := context.Background()

	first, err := cg.EmbedQuery(ctx, "cats")
	if err != nil {
		t.Fatalf("first EmbedQuery: %v", err)
	}
	second, err := cg.EmbedQuery(ctx, "cats")
	if err != nil {
		t.Fatalf("second EmbedQuery: %v", err)
	}

	if inner.queryCalls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.queryCalls)
	}
	if len(second) != 2 || second[1][1] != first[1][1] {
		t.Errorf("cached embedding differs: %v vs %v", second, first)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 1 {
		t.Errorf("hits = %v", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %v", got)
	}

	for key, ttl := range ms.ttls {
		if !strings.HasPrefix(key, "pagedex:emb_cache:") {
			t.Errorf("unexpected key %q", key)
		}
		if ttl != time.Hour {
			t.Errorf("ttl = %v", ttl)
		}
	}
}

func TestEmbedQuery_DistinctTextsDistinctKeys(t *testing.T) {
	inner := &mockGateway{emb: domain.Embedding{{1}}}
	ms := newMockKVStore()
	cg := New(inner, ms, "p:", 0, nil, nil)

	_, _ = cg.EmbedQuery(context.Background(), "a")
	_, _ = cg.EmbedQuery(context.Background(), "b")

	if len(ms.data) != 2 || inner.queryCalls != 2 {
		t.Fatalf("expected 2 entries and 2 calls, got %d and %d", len(ms.data), inner.queryCalls)
	}
}

func TestEmbedQuery_InnerError(t *testing.T) {
	inner := &mockGateway{err: &domain.EmbeddingServiceError{Op: "query", StatusCode: 503}}
	ms := newMockKVStore()
	cg := New(inner, ms, "p:", time.Minute, nil, nil)

	_, err := cg.EmbedQuery(context.Background(), "q")
	if !errors.Is(err, domain.ErrEmbeddingService) {
		t.Fatalf("expected ErrEmbeddingService, got %v", err)
	}
	if len(ms.data) != 0 {
		t.Error("failed embeddings must not be cached")
	}
}

func TestEmbedQuery_StoreFailuresIgnored(t *testing.T) {
	inner := &mockGateway{emb: domain.Embedding{{1, 2}}}
	ms := newMockKVStore()
	ms.getErr = errors.New("connection refused")
	ms.setErr = errors.New("connection refused")
	cg := New(inner, ms, "p:", time.Minute, nil, nil)

	emb, err := cg.EmbedQuery(context.Background(), "q")
	if err != nil {
		t.Fatalf("store failures must not fail the call: %v", err)
	}
	if len(emb) != 1 {
		t.Errorf("unexpected embedding %v", emb)
	}
}

func TestEmbedQuery_CorruptEntry(t *testing.T) {
	inner := &mockGateway{emb: domain.Embedding{{1, 2}}}
	ms := newMockKVStore()
	cg := New(inner, ms, "p:", time.Minute, nil, nil)
	ms.data[cg.cacheKey("q")] = []byte{1, 2, 3}

	if _, err := cg.EmbedQuery(context.Background(), "q"); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if inner.queryCalls != 1 {
		t.Error("corrupt entry should fall through to the inner gateway")
	}
}

func TestEmbedImage_PassThrough(t *testing.T) {
	inner := &mockGateway{emb: domain.Embedding{{1}}}
	ms := newMockKVStore()
	cg := New(inner, ms, "p:", time.Minute, nil, nil)

	if _, err := cg.EmbedImage(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if inner.imageCalls != 1 || len(ms.data) != 0 {
		t.Errorf("image embeddings must not be cached")
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, data := range [][]byte{nil, {0, 0, 0, 0, 0, 0, 0, 0}, {1, 0, 0, 0, 2, 0, 0, 0, 1, 2, 3, 4}} {
		if _, err := decode(data); err == nil {
			t.Errorf("expected error for %v", data)
		}
	}
}
