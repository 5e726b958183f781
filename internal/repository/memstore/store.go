// Package memstore is an in-process vector store with the same contract as the
// networked backends. Vectors are kept unquantized, so scores are exact max-sim.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/kailas-cloud/pagedex/internal/domain"
	domcol "github.com/kailas-cloud/pagedex/internal/domain/collection"
	"github.com/kailas-cloud/pagedex/internal/domain/point"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	"github.com/kailas-cloud/pagedex/internal/domain/similarity"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

const backend = "memory"

type collection struct {
	schema domcol.Collection
	points map[uint64]point.Point
}

// Store keeps collections in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// CreateCollection registers a schema; fails if the name is taken.
func (s *Store) CreateCollection(_ context.Context, col domcol.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[col.Name()]; ok {
		err := fmt.Errorf("%w: %s", domain.ErrCollectionAlreadyExists, col.Name())
		metrics.ObserveStore(backend, "create_collection", err)
		return err
	}
	s.collections[col.Name()] = &collection{schema: col, points: make(map[uint64]point.Point)}
	metrics.ObserveStore(backend, "create_collection", nil)
	return nil
}

// CollectionExists reports whether name is registered.
func (s *Store) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

// DeleteCollection drops the collection and its points.
func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	delete(s.collections, name)
	metrics.ObserveStore(backend, "delete_collection", nil)
	return nil
}

// Upsert stores a copy of p, replacing any point with the same id.
func (s *Store) Upsert(_ context.Context, name string, p point.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err := p.Embedding.Validate(c.schema.Dim()); err != nil {
		metrics.ObserveStore(backend, "upsert", err)
		return fmt.Errorf("upsert point %d: %w", p.ID, err)
	}
	p.Embedding = p.Embedding.Clone()
	c.points[p.ID] = p
	metrics.ObserveStore(backend, "upsert", nil)
	return nil
}

// Search ranks every point by max-sim against query and returns the best topK.
func (s *Store) Search(_ context.Context, name string, query domain.Embedding, topK int) ([]result.Hit, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err := query.Validate(c.schema.Dim()); err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}

	hits := make([]result.Hit, 0, len(c.points))
	for id, p := range c.points {
		hits = append(hits, result.Hit{
			ID:      id,
			Score:   similarity.MaxSim(query, p.Embedding),
			Payload: p.Payload,
		})
	}
	result.SortByScore(hits)
	metrics.ObserveStore(backend, "search", nil)
	return result.TopK(hits, topK), nil
}

// Count returns the number of stored points.
func (s *Store) Count(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	return len(c.points), nil
}
