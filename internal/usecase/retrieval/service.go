// Package retrieval embeds query text and searches a collection, optionally
// joining hits back to their pages and interpreting them.
package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
)

// Config holds top_k bounds.
type Config struct {
	DefaultTopK int
	MaxTopK     int
}

// Service handles text search over page collections.
type Service struct {
	searcher    Searcher
	gateway     domain.Gateway
	pages       PageReader
	interpreter Interpreter // nil disables Ask
	cfg         Config
	logger      *zap.Logger
}

// New creates a retrieval service. pages and interpreter may be nil.
func New(
	searcher Searcher, gateway domain.Gateway, pages PageReader, interpreter Interpreter,
	cfg Config, logger *zap.Logger,
) *Service {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		searcher:    searcher,
		gateway:     gateway,
		pages:       pages,
		interpreter: interpreter,
		cfg:         cfg,
		logger:      logger,
	}
}

// ResolveTopK maps an omitted top_k (0) to the default and rejects negative values
// or values above the configured maximum.
func (s *Service) ResolveTopK(topK int) (int, error) {
	switch {
	case topK == 0:
		return s.cfg.DefaultTopK, nil
	case topK < 0:
		return 0, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	case s.cfg.MaxTopK > 0 && topK > s.cfg.MaxTopK:
		return 0, fmt.Errorf("%w: %d exceeds maximum %d", domain.ErrInvalidTopK, topK, s.cfg.MaxTopK)
	default:
		return topK, nil
	}
}

// SearchByText embeds query as is and returns up to topK hits ranked by score.
// Empty text is forwarded to the gateway. An empty collection yields no hits.
func (s *Service) SearchByText(ctx context.Context, collection, query string, topK int) ([]result.Hit, error) {
	emb, err := s.gateway.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.searcher.Search(ctx, collection, emb, topK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	if hits == nil {
		hits = []result.Hit{}
	}
	return hits, nil
}

// Retrieve is SearchByText with each hit joined to its page from the page dataset.
// Hits without a stored page keep a nil Page.
func (s *Service) Retrieve(ctx context.Context, collection, query string, topK int) ([]result.Result, error) {
	topK, err := s.ResolveTopK(topK)
	if err != nil {
		return nil, err
	}
	hits, err := s.SearchByText(ctx, collection, query, topK)
	if err != nil {
		return nil, err
	}

	results := make([]result.Result, len(hits))
	for i, h := range hits {
		results[i] = result.New(h)
	}
	if s.pages == nil || len(hits) == 0 {
		return results, nil
	}

	indexes := make([]int, len(hits))
	for i, h := range hits {
		indexes[i] = h.Payload.Index
	}
	records, err := s.pages.GetMany(ctx, collection, indexes)
	if errors.Is(err, domain.ErrPageNotFound) {
		s.logger.Warn("Page dataset missing, returning bare hits", zap.String("collection", collection), zap.Error(err))
		return results, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}

	for i := range results {
		rec, ok := records[results[i].Payload.Index]
		if !ok {
			s.logger.Warn("Hit without stored page",
				zap.String("collection", collection),
				zap.Int("index", results[i].Payload.Index),
			)
			continue
		}
		results[i].Page = &rec
	}
	return results, nil
}

// Ask retrieves pages for query and asks the interpreter about each of them.
// A failure on one page is recorded on its result and does not fail the call.
func (s *Service) Ask(ctx context.Context, collection, query string, topK int) ([]result.Result, error) {
	if s.interpreter == nil {
		return nil, domain.ErrInterpreterDisabled
	}

	results, err := s.Retrieve(ctx, collection, query, topK)
	if err != nil {
		return nil, err
	}

	for i := range results {
		r := &results[i]
		if r.Page == nil {
			r.AnswerErr = fmt.Errorf("%w: index %d", domain.ErrPageNotFound, r.Payload.Index)
			continue
		}
		img, err := png.Decode(bytes.NewReader(r.Page.ImagePNG))
		if err != nil {
			r.AnswerErr = fmt.Errorf("decode page image: %w", err)
			continue
		}
		answer, err := s.interpreter.Ask(ctx, query, img)
		if err != nil {
			s.logger.Warn("Page interpretation failed",
				zap.String("collection", collection),
				zap.Int("index", r.Payload.Index),
				zap.Error(err),
			)
			r.AnswerErr = err
			continue
		}
		r.Answer = answer
	}
	return results, nil
}
