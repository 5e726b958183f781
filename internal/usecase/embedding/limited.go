package embedding

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/time/rate"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

// LimitedGateway throttles calls to the embedding service with a token bucket
// shared by queries and images.
type LimitedGateway struct {
	inner  domain.Gateway
	bucket *rate.Limiter
}

var _ domain.Gateway = (*LimitedGateway)(nil)

// NewLimitedGateway allows rps calls per second with a burst of burst.
// A burst below 1 is treated as 1.
func NewLimitedGateway(inner domain.Gateway, rps float64, burst int) *LimitedGateway {
	if burst < 1 {
		burst = 1
	}
	return &LimitedGateway{inner: inner, bucket: rate.NewLimiter(rate.Limit(rps), burst)}
}

// EmbedQuery waits for a token, then delegates.
func (g *LimitedGateway) EmbedQuery(ctx context.Context, text string) (domain.Embedding, error) {
	if err := g.bucket.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}
	return g.inner.EmbedQuery(ctx, text)
}

// EmbedImage waits for a token, then delegates.
func (g *LimitedGateway) EmbedImage(ctx context.Context, img image.Image) (domain.Embedding, error) {
	if err := g.bucket.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}
	return g.inner.EmbedImage(ctx, img)
}
