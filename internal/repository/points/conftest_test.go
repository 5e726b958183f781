package points

import (
	"context"
	"path"
	"sort"
	"sync"
	"testing"

	"github.com/kailas-cloud/pagedex/internal/domain"
	domcol "github.com/kailas-cloud/pagedex/internal/domain/collection"
	"github.com/kailas-cloud/pagedex/internal/domain/point"
)

const testDim = 4

// fakeStore is an in-memory hash store with per-method error injection.
type fakeStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string

	hsetErr   error
	hsetnxErr error
	scanErr   error
	multiErr  error
	delCalls  [][]string
	scanCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: make(map[string]map[string]string)}
}

func (f *fakeStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if f.hsetErr != nil {
		return f.hsetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (f *fakeStore) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	if f.hsetnxErr != nil {
		return false, f.hsetnxErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (f *fakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if f.multiErr != nil {
		return nil, f.multiErr
	}
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i], _ = f.HGetAll(ctx, k)
	}
	return out, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delCalls = append(f.delCalls, keys)
	for _, k := range keys {
		delete(f.hashes, k)
	}
	return nil
}

func (f *fakeStore) Scan(_ context.Context, pattern string) ([]string, error) {
	f.scanCalls++
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func newTestRepo(t *testing.T, opts ...domcol.Option) (*Repo, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	r := New(fs, "test:")
	col, err := domcol.New("demo", testDim, opts...)
	if err != nil {
		t.Fatalf("domcol.New: %v", err)
	}
	if err := r.CreateCollection(context.Background(), col); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	return r, fs
}

// oneHot returns a single-vector embedding pointing along axis i.
func oneHot(i int) domain.Embedding {
	v := make([]float32, testDim)
	v[i] = 1
	return domain.Embedding{v}
}

func testPoint(index int, emb domain.Embedding) point.Point {
	return point.Point{
		ID:        uint64(index), //nolint:gosec // test indexes are small
		Embedding: emb,
		Payload:   point.Payload{Index: index, SourceName: "doc.pdf", PageNumber: index + 1},
	}
}
