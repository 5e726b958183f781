package app

import (
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kailas-cloud/pagedex/internal/config"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	healthuc "github.com/kailas-cloud/pagedex/internal/usecase/health"
	"github.com/kailas-cloud/pagedex/internal/usecase/ingest"
)

func newColPali(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs":
			w.WriteHeader(http.StatusOK)
		case "/query", "/process_image":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"embedding":[[1,0,0,0],[0,1,0,0]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg := config.Config{
		Database:  config.DatabaseConfig{Driver: config.DriverMemory},
		Embedding: config.EmbeddingConfig{BaseURL: baseURL, Dimensions: 4},
		Storage:   config.StorageConfig{Dir: t.TempDir()},
	}
	cfg.ApplyDefaults()
	return cfg
}

func grayPage(index int) page.Page {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	img.SetGray(0, 0, color.Gray{Y: 200})
	return page.New(index, "doc.pdf", index+1, img, "")
}

func TestNew_MemoryDriver(t *testing.T) {
	srv := newColPali(t)
	a, err := New(context.Background(), testConfig(t, srv.URL), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	report, err := a.Ingest.Ingest(ctx, "docs", []page.Page{grayPage(0), grayPage(1)}, ingest.Options{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Stored != 2 {
		t.Fatalf("expected 2 stored pages, got %d", report.Stored)
	}

	hits, err := a.Retrieval.SearchByText(ctx, "docs", "invoice", 1)
	if err != nil {
		t.Fatalf("SearchByText: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}

	health := a.Health.Check(ctx)
	if health.Status != healthuc.Healthy {
		t.Errorf("expected healthy, got %q (%v)", health.Status, health.Checks)
	}
	if health.Backend != config.DriverMemory {
		t.Errorf("expected backend memory, got %q", health.Backend)
	}
}

func TestNew_EmbeddingDownIsDegraded(t *testing.T) {
	srv := newColPali(t)
	cfg := testConfig(t, srv.URL)
	srv.Close()

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if got := a.Health.Check(context.Background()).Status; got != healthuc.Degraded {
		t.Errorf("expected degraded, got %q", got)
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1")
	cfg.Database.Driver = "mongo"

	_, err := New(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "mongo") {
		t.Errorf("expected driver name in error, got %v", err)
	}
}

func TestNew_MissingEmbeddingURL(t *testing.T) {
	cfg := testConfig(t, "")

	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error without embedding base url")
	}
}

func TestClose_Twice(t *testing.T) {
	srv := newColPali(t)
	a, err := New(context.Background(), testConfig(t, srv.URL), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Close()
	a.Close()
}
