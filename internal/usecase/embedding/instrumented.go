package embedding

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

// InstrumentedGateway wraps a Gateway with latency logging.
// Transport metrics (requests, duration, errors) are recorded in transport/colpali.
type InstrumentedGateway struct {
	inner  domain.Gateway
	logger *zap.Logger
}

var _ domain.Gateway = (*InstrumentedGateway)(nil)

// NewInstrumentedGateway wraps a gateway with observability.
func NewInstrumentedGateway(inner domain.Gateway, logger *zap.Logger) *InstrumentedGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedGateway{inner: inner, logger: logger}
}

// EmbedQuery delegates to the inner gateway and logs the outcome.
func (g *InstrumentedGateway) EmbedQuery(ctx context.Context, text string) (domain.Embedding, error) {
	start := time.Now()
	emb, err := g.inner.EmbedQuery(ctx, text)
	duration := time.Since(start)

	if err != nil {
		g.logger.Error("Query embedding failed",
			zap.Int("query_len", len(text)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, fmt.Errorf("embed query: %w", err)
	}

	g.logger.Debug("Query embedded",
		zap.Duration("duration", duration),
		zap.Int("vectors", len(emb)),
		zap.Int("dim", emb.Dim()),
	)
	return emb, nil
}

// EmbedImage delegates to the inner gateway and logs the outcome.
func (g *InstrumentedGateway) EmbedImage(ctx context.Context, img image.Image) (domain.Embedding, error) {
	start := time.Now()
	emb, err := g.inner.EmbedImage(ctx, img)
	duration := time.Since(start)

	if err != nil {
		g.logger.Error("Image embedding failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, fmt.Errorf("embed image: %w", err)
	}

	g.logger.Debug("Image embedded",
		zap.Duration("duration", duration),
		zap.Int("vectors", len(emb)),
		zap.Int("dim", emb.Dim()),
	)
	return emb, nil
}
