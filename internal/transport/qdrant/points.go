package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/point"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

// Payload keys.
const (
	payloadIndex      = "index"
	payloadSourceName = "source_name"
	payloadPageNumber = "page_number"
)

// Upsert writes a point with wait=false: the call returns once Qdrant
// acknowledges the update, before it is applied.
func (c *Client) Upsert(ctx context.Context, name string, p point.Point) (err error) {
	defer func() { metrics.ObserveStore(backend, "upsert", err) }()

	if err := p.Embedding.Validate(0); err != nil {
		return fmt.Errorf("upsert point %d: %w", p.ID, err)
	}

	req := upsertPointsRequest{Points: []qdrantPoint{{
		ID:     p.ID,
		Vector: p.Embedding,
		Payload: map[string]any{
			payloadIndex:      p.Payload.Index,
			payloadSourceName: p.Payload.SourceName,
			payloadPageNumber: p.Payload.PageNumber,
		},
	}}}

	var res updateResult
	if err := c.do(ctx, http.MethodPut, collectionPath(name, "/points?wait=false"), req, &res); err != nil {
		return mapStatus(err, name)
	}
	return nil
}

// Search ranks points by max-sim against query and returns up to topK hits.
func (c *Client) Search(ctx context.Context, name string, query domain.Embedding, topK int) (_ []result.Hit, err error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}
	defer func() { metrics.ObserveStore(backend, "search", err) }()

	if err := query.Validate(0); err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}

	req := queryRequest{Query: query, Limit: topK, WithPayload: true}
	var res queryResult
	if err := c.do(ctx, http.MethodPost, collectionPath(name, "/points/query"), req, &res); err != nil {
		return nil, mapStatus(err, name)
	}

	hits := make([]result.Hit, 0, len(res.Points))
	for _, sp := range res.Points {
		id, err := strconv.ParseUint(sp.ID.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse point id %q: %w", sp.ID, err)
		}
		hits = append(hits, result.Hit{
			ID:    id,
			Score: sp.Score,
			Payload: point.Payload{
				Index:      toInt(sp.Payload[payloadIndex]),
				SourceName: stringFromPayload(sp.Payload, payloadSourceName),
				PageNumber: toInt(sp.Payload[payloadPageNumber]),
			},
		})
	}
	result.SortByScore(hits)
	return hits, nil
}

// Count returns the exact number of stored points.
func (c *Client) Count(ctx context.Context, name string) (int, error) {
	var res countResult
	if err := c.do(ctx, http.MethodPost, collectionPath(name, "/points/count"), countRequest{Exact: true}, &res); err != nil {
		return 0, mapStatus(err, name)
	}
	return res.Count, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func stringFromPayload(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
