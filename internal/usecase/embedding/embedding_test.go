package embedding

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

type mockGateway struct {
	emb   domain.Embedding
	err   error
	calls int
}

func (m *mockGateway) EmbedQuery(_ context.Context, _ string) (domain.Embedding, error) {
	m.calls++
	return m.emb, m.err
}

func (m *mockGateway) EmbedImage(_ context.Context, _ image.Image) (domain.Embedding, error) {
	m.calls++
	return m.emb, m.err
}

func TestInstrumentedGateway_Success(t *testing.T) {
	inner := &mockGateway{emb: domain.Embedding{{0.1, 0.2, 0.3}}}
	g := NewInstrumentedGateway(inner, zap.NewNop())

	emb, err := g.EmbedQuery(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.Dim() != 3 {
		t.Errorf("expected dim 3, got %d", emb.Dim())
	}

	if _, err := g.EmbedImage(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("unexpected image error: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 inner calls, got %d", inner.calls)
	}
}

func TestInstrumentedGateway_ErrorKeepsType(t *testing.T) {
	inner := &mockGateway{err: &domain.EmbeddingServiceError{Op: "image", StatusCode: 500}}
	g := NewInstrumentedGateway(inner, nil)

	_, err := g.EmbedImage(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
	var svcErr *domain.EmbeddingServiceError
	if !errors.As(err, &svcErr) || svcErr.StatusCode != 500 {
		t.Fatalf("expected wrapped EmbeddingServiceError, got %v", err)
	}
}

func TestLimitedGateway_Throttles(t *testing.T) {
	inner := &mockGateway{emb: domain.Embedding{{1}}}
	g := NewLimitedGateway(inner, 20, 1)
	ctx := context.Background()

	start := time.Now()
	for range 3 {
		if _, err := g.EmbedQuery(ctx, "q"); err != nil {
			t.Fatalf("EmbedQuery: %v", err)
		}
	}
	// burst 1 at 20 rps: the 2nd and 3rd calls wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected throttling, 3 calls took %v", elapsed)
	}
}

func TestLimitedGateway_ContextCancelled(t *testing.T) {
	inner := &mockGateway{emb: domain.Embedding{{1}}}
	g := NewLimitedGateway(inner, 0.001, 1)
	ctx := context.Background()

	if _, err := g.EmbedImage(ctx, nil); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := g.EmbedImage(ctx, nil); err == nil {
		t.Fatal("expected rate limit wait to fail on deadline")
	}
	if inner.calls != 1 {
		t.Errorf("expected inner not called after limit error, got %d calls", inner.calls)
	}
}
