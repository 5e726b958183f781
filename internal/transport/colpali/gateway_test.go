package colpali

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

func newTestGateway(t *testing.T, dim int, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	g, err := New(Config{BaseURL: srv.URL + "/", Token: "tok", Dimensions: dim, JPEGQuality: 80})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func writeEmbedding(w http.ResponseWriter, emb [][]float32) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"embedding": emb})
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := range 8 {
		img.Set(x, 3, color.RGBA{R: 200, A: 255})
	}
	return img
}

func TestEmbedQuery(t *testing.T) {
	want := [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}
	g := newTestGateway(t, 3, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/query" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("query_text"); got != "what is a cat & dog?" {
			t.Errorf("query_text = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		writeEmbedding(w, want)
	})

	emb, err := g.EmbedQuery(context.Background(), "what is a cat & dog?")
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if len(emb) != 2 || emb.Dim() != 3 || emb[1][2] != 0.6 {
		t.Errorf("unexpected embedding %v", emb)
	}
}

func TestEmbedQuery_EmptyTextForwarded(t *testing.T) {
	g := newTestGateway(t, 0, func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.Query().Has("query_text") {
			t.Error("expected query_text parameter even for empty text")
		}
		writeEmbedding(w, [][]float32{{1}})
	})

	if _, err := g.EmbedQuery(context.Background(), ""); err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
}

func TestEmbedImage_Multipart(t *testing.T) {
	g := newTestGateway(t, 2, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process_image" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		if ct := hdr.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part content type = %q", ct)
		}
		img, err := jpeg.Decode(f)
		if err != nil {
			t.Errorf("decode jpeg: %v", err)
		} else if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
			t.Errorf("image bounds = %v", b)
		}
		writeEmbedding(w, [][]float32{{1, 0}, {0, 1}, {1, 1}})
	})

	emb, err := g.EmbedImage(context.Background(), testImage())
	if err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if len(emb) != 3 {
		t.Errorf("expected 3 sub-vectors, got %d", len(emb))
	}
}

func TestEmbed_StatusError(t *testing.T) {
	long := strings.Repeat("x", 2000)
	g := newTestGateway(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(long))
	})

	_, err := g.EmbedImage(context.Background(), testImage())
	if !errors.Is(err, domain.ErrEmbeddingService) {
		t.Fatalf("expected ErrEmbeddingService, got %v", err)
	}
	var svcErr *domain.EmbeddingServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *EmbeddingServiceError, got %T", err)
	}
	if svcErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", svcErr.StatusCode)
	}
	if len(svcErr.Body) != maxErrorBody {
		t.Errorf("expected body truncated to %d bytes, got %d", maxErrorBody, len(svcErr.Body))
	}
}

func TestEmbed_Unauthorized(t *testing.T) {
	g := newTestGateway(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"invalid token"}`, http.StatusUnauthorized)
	})

	_, err := g.EmbedQuery(context.Background(), "q")
	var svcErr *domain.EmbeddingServiceError
	if !errors.As(err, &svcErr) || svcErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 EmbeddingServiceError, got %v", err)
	}
	if !strings.Contains(svcErr.Body, "invalid token") {
		t.Errorf("body = %q", svcErr.Body)
	}
}

func TestEmbed_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	g, err := New(Config{BaseURL: base})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = g.EmbedQuery(context.Background(), "q")
	var svcErr *domain.EmbeddingServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *EmbeddingServiceError, got %v", err)
	}
	if svcErr.StatusCode != 0 || svcErr.Err == nil {
		t.Errorf("expected transport cause without status, got %+v", svcErr)
	}
}

func TestEmbed_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	g, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.EmbedQuery(context.Background(), "slow"); !errors.Is(err, domain.ErrEmbeddingService) {
		t.Fatalf("expected ErrEmbeddingService on timeout, got %v", err)
	}
}

func TestEmbed_BadShape(t *testing.T) {
	tests := []struct {
		name string
		dim  int
		emb  [][]float32
	}{
		{name: "empty", emb: [][]float32{}},
		{name: "ragged", emb: [][]float32{{1, 2}, {1}}},
		{name: "wrong dim", dim: 3, emb: [][]float32{{1, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, tt.dim, func(w http.ResponseWriter, _ *http.Request) {
				writeEmbedding(w, tt.emb)
			})

			_, err := g.EmbedQuery(context.Background(), "q")
			if !errors.Is(err, domain.ErrEmbeddingService) || !errors.Is(err, domain.ErrVectorDimMismatch) {
				t.Fatalf("expected embedding service dim mismatch, got %v", err)
			}
		})
	}
}

func TestEmbed_InvalidJSON(t *testing.T) {
	g := newTestGateway(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>gateway</html>"))
	})

	if _, err := g.EmbedQuery(context.Background(), "q"); !errors.Is(err, domain.ErrEmbeddingService) {
		t.Fatalf("expected ErrEmbeddingService, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	g := newTestGateway(t, 0, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/docs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("<html>swagger</html>"))
	})

	if err := g.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "  "}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
