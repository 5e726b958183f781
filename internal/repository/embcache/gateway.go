// Package embcache caches query embeddings in the key-value store.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/db"
	"github.com/kailas-cloud/pagedex/internal/domain"
)

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedGateway caches EmbedQuery results. Image embeddings pass through:
// every page is embedded once per ingestion, so caching them only costs memory.
type CachedGateway struct {
	inner      domain.Gateway
	store      store
	prefix     string
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

var _ domain.Gateway = (*CachedGateway)(nil)

// New creates a caching decorator. Keys are keyPrefix + "emb_cache:" + sha256(text).
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner domain.Gateway,
	s store,
	keyPrefix string,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedGateway{
		inner:      inner,
		store:      s,
		prefix:     keyPrefix + "emb_cache:",
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// EmbedQuery returns a cached embedding or calls the inner gateway.
// Cache failures are logged and never fail the call.
func (c *CachedGateway) EmbedQuery(ctx context.Context, text string) (domain.Embedding, error) {
	key := c.cacheKey(text)

	if emb, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return emb, nil
	}

	c.incCache("miss")

	emb, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	c.putToCache(ctx, key, emb)
	return emb, nil
}

// EmbedImage delegates to the inner gateway.
func (c *CachedGateway) EmbedImage(ctx context.Context, img image.Image) (domain.Embedding, error) {
	return c.inner.EmbedImage(ctx, img)
}

func (c *CachedGateway) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedGateway) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(h[:])
}

func (c *CachedGateway) getFromCache(ctx context.Context, key string) (domain.Embedding, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	emb, err := decode(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return emb, true
}

func (c *CachedGateway) putToCache(ctx context.Context, key string, emb domain.Embedding) {
	data, err := encode(emb)
	if err != nil {
		c.logger.Warn("Skipping cache for malformed embedding", zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

// encode writes [rows u32][dim u32] followed by rows*dim little-endian float32.
func encode(emb domain.Embedding) ([]byte, error) {
	if err := emb.Validate(0); err != nil {
		return nil, err
	}
	rows, dim := len(emb), emb.Dim()
	buf := make([]byte, 8+rows*dim*4)
	binary.LittleEndian.PutUint32(buf[0:], uint32(rows)) //nolint:gosec // bounded by service output
	binary.LittleEndian.PutUint32(buf[4:], uint32(dim))  //nolint:gosec // bounded by service output
	off := 8
	for _, row := range emb {
		for _, f := range row {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
			off += 4
		}
	}
	return buf, nil
}

func decode(data []byte) (domain.Embedding, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d", len(data))
	}
	rows := int(binary.LittleEndian.Uint32(data[0:]))
	dim := int(binary.LittleEndian.Uint32(data[4:]))
	if rows == 0 || dim == 0 || len(data)-8 != rows*dim*4 {
		return nil, fmt.Errorf("invalid embedding cache data: rows=%d dim=%d len=%d", rows, dim, len(data))
	}

	emb := make(domain.Embedding, rows)
	off := 8
	for i := range emb {
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		emb[i] = row
	}
	return emb, nil
}
