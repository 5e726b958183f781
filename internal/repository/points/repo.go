package points

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/pagedex/internal/domain"
	domcol "github.com/kailas-cloud/pagedex/internal/domain/collection"
	"github.com/kailas-cloud/pagedex/internal/domain/point"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	"github.com/kailas-cloud/pagedex/internal/domain/similarity"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

const (
	backend = "redis"

	// fetchChunk bounds one HGETALL pipeline during search.
	fetchChunk = 256
	// delChunk bounds one DEL call when dropping a collection.
	delChunk = 512
)

// Hash field names.
const (
	fieldName         = "name"
	fieldDim          = "dim"
	fieldDistance     = "distance"
	fieldComparator   = "comparator"
	fieldQuantization = "quantization"
	fieldQuantile     = "quantile"
	fieldAlwaysRAM    = "always_ram"
	fieldCreatedAt    = "created_at"

	fieldVectors    = "vectors"
	fieldIndex      = "index"
	fieldSourceName = "source_name"
	fieldPageNumber = "page_number"
)

// store is the consumer interface for points (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo is a vector store over Redis/Valkey hashes. Search is an exact scan
// scored with the max-sim comparator, so it suits page collections of modest size.
// Schemas are read from the store on every call: other processes may drop
// or re-create a collection at any time.
type Repo struct {
	store  store
	prefix string
}

// New creates a points repository. keyPrefix namespaces every key, e.g. "pagedex:".
func New(s store, keyPrefix string) *Repo {
	return &Repo{store: s, prefix: keyPrefix}
}

// CreateCollection stores the schema. A second create on the same name fails
// with ErrCollectionAlreadyExists; HSETNX on the name field makes the check atomic.
func (r *Repo) CreateCollection(ctx context.Context, col domcol.Collection) (err error) {
	defer func() { metrics.ObserveStore(backend, "create_collection", err) }()

	key := r.collKey(col.Name())
	created, err := r.store.HSetNX(ctx, key, fieldName, col.Name())
	if err != nil {
		return unavailable("create collection "+col.Name(), err)
	}
	if !created {
		return fmt.Errorf("%w: %s", domain.ErrCollectionAlreadyExists, col.Name())
	}

	if err := r.store.HSet(ctx, key, schemaToHash(col)); err != nil {
		cleanupErr := r.store.Del(ctx, key)
		return unavailable("create collection "+col.Name(), errors.Join(err, cleanupErr))
	}

	return nil
}

// CollectionExists reports whether a schema is stored under name.
func (r *Repo) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := r.schema(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrCollectionNotFound):
		return false, nil
	default:
		return false, err
	}
}

// DeleteCollection removes the schema and every point of the collection.
func (r *Repo) DeleteCollection(ctx context.Context, name string) (err error) {
	defer func() { metrics.ObserveStore(backend, "delete_collection", err) }()

	if _, err := r.schema(ctx, name); err != nil {
		return err
	}

	keys, err := r.store.Scan(ctx, r.pointPattern(name))
	if err != nil {
		return unavailable("scan points "+name, err)
	}
	for start := 0; start < len(keys); start += delChunk {
		end := min(start+delChunk, len(keys))
		if err := r.store.Del(ctx, keys[start:end]...); err != nil {
			return unavailable("delete points "+name, err)
		}
	}
	if err := r.store.Del(ctx, r.collKey(name)); err != nil {
		return unavailable("delete collection "+name, err)
	}
	return nil
}

// Upsert writes a point, replacing any point with the same id.
// Returns once the primary acknowledges the write; replication is not awaited.
func (r *Repo) Upsert(ctx context.Context, name string, p point.Point) (err error) {
	defer func() { metrics.ObserveStore(backend, "upsert", err) }()

	col, err := r.schema(ctx, name)
	if err != nil {
		return err
	}
	if err := p.Embedding.Validate(col.Dim()); err != nil {
		return fmt.Errorf("upsert point %d: %w", p.ID, err)
	}

	var blob []byte
	if col.Quantization() == domcol.QuantizationInt8 {
		blob = encodeInt8(p.Embedding, col.Quantile())
	} else {
		blob = encodeFloat32(p.Embedding)
	}

	fields := map[string]string{
		fieldVectors:    string(blob),
		fieldIndex:      strconv.Itoa(p.Payload.Index),
		fieldSourceName: p.Payload.SourceName,
		fieldPageNumber: strconv.Itoa(p.Payload.PageNumber),
	}
	if err := r.store.HSet(ctx, r.pointKey(name, p.ID), fields); err != nil {
		return unavailable(fmt.Sprintf("upsert point %d", p.ID), err)
	}
	return nil
}

// Search returns up to topK points ranked by max-sim against query.
// An empty collection yields an empty slice.
func (r *Repo) Search(ctx context.Context, name string, query domain.Embedding, topK int) (_ []result.Hit, err error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}
	defer func() { metrics.ObserveStore(backend, "search", err) }()

	col, err := r.schema(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := query.Validate(col.Dim()); err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}

	keys, err := r.store.Scan(ctx, r.pointPattern(name))
	if err != nil {
		return nil, unavailable("scan points "+name, err)
	}

	hits := make([]result.Hit, 0, len(keys))
	for start := 0; start < len(keys); start += fetchChunk {
		end := min(start+fetchChunk, len(keys))
		rows, err := r.store.HGetAllMulti(ctx, keys[start:end])
		if err != nil {
			return nil, unavailable("fetch points "+name, err)
		}
		for i, m := range rows {
			if len(m) == 0 {
				continue // deleted between SCAN and HGETALL
			}
			hit, err := hitFromHash(m, query)
			if err != nil {
				return nil, fmt.Errorf("decode point %s: %w", keys[start+i], err)
			}
			hits = append(hits, hit)
		}
	}

	result.SortByScore(hits)
	return result.TopK(hits, topK), nil
}

// Count returns the number of stored points.
func (r *Repo) Count(ctx context.Context, name string) (int, error) {
	if _, err := r.schema(ctx, name); err != nil {
		return 0, err
	}
	keys, err := r.store.Scan(ctx, r.pointPattern(name))
	if err != nil {
		return 0, unavailable("scan points "+name, err)
	}
	return len(keys), nil
}

// schema loads the stored schema of name.
func (r *Repo) schema(ctx context.Context, name string) (domcol.Collection, error) {
	m, err := r.store.HGetAll(ctx, r.collKey(name))
	if err != nil {
		return domcol.Collection{}, unavailable("load collection "+name, err)
	}
	if len(m) == 0 {
		return domcol.Collection{}, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	col, err := schemaFromHash(m)
	if err != nil {
		return domcol.Collection{}, fmt.Errorf("parse collection %s: %w", name, err)
	}
	return col, nil
}

func (r *Repo) collKey(name string) string {
	return fmt.Sprintf("%scollection:%s", r.prefix, name)
}

func (r *Repo) pointKey(name string, id uint64) string {
	return fmt.Sprintf("%spoint:%s:%d", r.prefix, name, id)
}

func (r *Repo) pointPattern(name string) string {
	return fmt.Sprintf("%spoint:%s:*", r.prefix, name)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func schemaToHash(col domcol.Collection) map[string]string {
	return map[string]string{
		fieldDim:          strconv.Itoa(col.Dim()),
		fieldDistance:     string(col.Distance()),
		fieldComparator:   string(col.Comparator()),
		fieldQuantization: string(col.Quantization()),
		fieldQuantile:     strconv.FormatFloat(col.Quantile(), 'g', -1, 64),
		fieldAlwaysRAM:    strconv.FormatBool(col.AlwaysRAM()),
		fieldCreatedAt:    strconv.FormatInt(col.CreatedAt(), 10),
	}
}

func schemaFromHash(m map[string]string) (domcol.Collection, error) {
	dim, err := strconv.Atoi(m[fieldDim])
	if err != nil {
		return domcol.Collection{}, fmt.Errorf("parse dim: %w", err)
	}
	var quantile float64
	if v := m[fieldQuantile]; v != "" {
		if quantile, err = strconv.ParseFloat(v, 64); err != nil {
			return domcol.Collection{}, fmt.Errorf("parse quantile: %w", err)
		}
	}
	alwaysRAM, _ := strconv.ParseBool(m[fieldAlwaysRAM])
	createdAt, _ := strconv.ParseInt(m[fieldCreatedAt], 10, 64)

	return domcol.Reconstruct(
		m[fieldName], dim,
		domcol.Distance(m[fieldDistance]),
		domcol.Comparator(m[fieldComparator]),
		domcol.Quantization(m[fieldQuantization]),
		quantile, alwaysRAM, createdAt,
	), nil
}

func hitFromHash(m map[string]string, query domain.Embedding) (result.Hit, error) {
	vectors, err := decodeVectors([]byte(m[fieldVectors]))
	if err != nil {
		return result.Hit{}, err
	}
	index, err := strconv.Atoi(m[fieldIndex])
	if err != nil {
		return result.Hit{}, fmt.Errorf("parse index: %w", err)
	}
	pageNumber, err := strconv.Atoi(m[fieldPageNumber])
	if err != nil {
		return result.Hit{}, fmt.Errorf("parse page_number: %w", err)
	}

	return result.Hit{
		ID:    uint64(index), //nolint:gosec // indexes are non-negative
		Score: similarity.MaxSim(query, vectors),
		Payload: point.Payload{
			Index:      index,
			SourceName: m[fieldSourceName],
			PageNumber: pageNumber,
		},
	}, nil
}
