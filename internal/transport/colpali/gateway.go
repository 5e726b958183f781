// Package colpali is the HTTP client for the remote ColPali embedding service.
package colpali

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

const (
	opQuery = "query"
	opImage = "image"

	// maxErrorBody bounds the response body kept on an EmbeddingServiceError.
	maxErrorBody = 512
)

// Config holds the embedding service settings.
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	Dimensions  int // 0 skips the per-row dimension check
	JPEGQuality int
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Gateway implements domain.Gateway over the ColPali REST endpoints.
type Gateway struct {
	http        *http.Client
	baseURL     string
	token       string
	dimensions  int
	jpegQuality int
	logger      *zap.Logger
}

var _ domain.Gateway = (*Gateway)(nil)

// New creates a gateway. Requests are bounded by cfg.Timeout (60s when unset)
// and never retried.
func New(cfg Config) (*Gateway, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("embedding base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse embedding base url: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		http:        hc,
		baseURL:     base,
		token:       cfg.Token,
		dimensions:  cfg.Dimensions,
		jpegQuality: quality,
		logger:      logger,
	}, nil
}

// EmbedQuery embeds text with POST /query?query_text=... The text is sent as is,
// including empty strings.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) (domain.Embedding, error) {
	endpoint := g.baseURL + "/query?" + url.Values{"query_text": {text}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return nil, &domain.EmbeddingServiceError{Op: opQuery, Err: err}
	}
	return g.call(req, opQuery)
}

// EmbedImage JPEG-encodes img and posts it as the multipart field "image" to /process_image.
func (g *Gateway) EmbedImage(ctx context.Context, img image.Image) (domain.Embedding, error) {
	if img == nil {
		return nil, &domain.EmbeddingServiceError{Op: opImage, Err: errors.New("nil image")}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="page.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, &domain.EmbeddingServiceError{Op: opImage, Err: err}
	}
	if err := jpeg.Encode(part, img, &jpeg.Options{Quality: g.jpegQuality}); err != nil {
		return nil, &domain.EmbeddingServiceError{Op: opImage, Err: fmt.Errorf("encode jpeg: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return nil, &domain.EmbeddingServiceError{Op: opImage, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/process_image", &body)
	if err != nil {
		return nil, &domain.EmbeddingServiceError{Op: opImage, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return g.call(req, opImage)
}

// HealthCheck issues an authenticated GET /docs.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/docs", http.NoBody)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	g.authorize(req)

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("embedding service health: status %d", resp.StatusCode)
	}
	return nil
}

type embeddingResponse struct {
	Embedding [][]float32 `json:"embedding"`
}

func (g *Gateway) call(req *http.Request, op string) (domain.Embedding, error) {
	g.authorize(req)

	start := time.Now()
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, g.fail(op, "transport", &domain.EmbeddingServiceError{Op: op, Err: err})
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, g.fail(op, "status", &domain.EmbeddingServiceError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		})
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, g.fail(op, "decode", &domain.EmbeddingServiceError{
			Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err),
		})
	}

	emb := domain.Embedding(out.Embedding)
	if err := emb.Validate(g.dimensions); err != nil {
		return nil, g.fail(op, "shape", &domain.EmbeddingServiceError{Op: op, Err: err})
	}

	elapsed := time.Since(start)
	metrics.EmbeddingRequestsTotal.WithLabelValues(op, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	return emb, nil
}

func (g *Gateway) authorize(req *http.Request) {
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
}

func (g *Gateway) fail(op, kind string, err error) error {
	metrics.EmbeddingRequestsTotal.WithLabelValues(op, "error").Inc()
	metrics.EmbeddingErrorsTotal.WithLabelValues(op, kind).Inc()
	g.logger.Warn("Embedding request failed", zap.String("operation", op), zap.String("kind", kind), zap.Error(err))
	return err
}
