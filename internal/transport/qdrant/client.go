// Package qdrant is a vector store adapter over the Qdrant REST API.
// Collections are created as multi-vector (max_sim) with int8 scalar quantization.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

const backend = "qdrant"

// Config holds connection and collection-creation settings.
type Config struct {
	URL               string
	APIKey            string
	Timeout           time.Duration
	OnDiskPayload     bool
	IndexingThreshold int
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Client talks to one Qdrant deployment. Safe for concurrent use.
type Client struct {
	http              *http.Client
	baseURL           string
	apiKey            string
	onDiskPayload     bool
	indexingThreshold int
	logger            *zap.Logger
}

// New creates a client. URL is required, e.g. https://xyz.cloud.qdrant.io:6333.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		http:              hc,
		baseURL:           base,
		apiKey:            cfg.APIKey,
		onDiskPayload:     cfg.OnDiskPayload,
		indexingThreshold: cfg.IndexingThreshold,
		logger:            logger,
	}, nil
}

// Ping hits the readiness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil)
}

// statusError is a non-2xx reply from Qdrant.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant: status %d: %s", e.status, e.msg)
}

// do sends a JSON request and decodes the envelope's result into dest.
// Transport failures and 5xx map to ErrStoreUnavailable; 4xx come back as *statusError.
func (c *Client) do(ctx context.Context, method, path string, payload, dest any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrStoreUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var env envelope[json.RawMessage]
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &env) == nil && env.Status.Error != "" {
			msg = env.Status.Error
		}
		serr := &statusError{status: resp.StatusCode, msg: msg}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, serr)
		}
		return serr
	}

	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	var env envelope[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", domain.ErrStoreUnavailable, path, err)
	}
	if err := json.Unmarshal(env.Result, dest); err != nil {
		return fmt.Errorf("%w: decode %s result: %w", domain.ErrStoreUnavailable, path, err)
	}
	return nil
}

func collectionPath(name, suffix string) string {
	return "/collections/" + url.PathEscape(name) + suffix
}
