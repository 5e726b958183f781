// Package chi is the HTTP API: collection lifecycle, search, ask and page images.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	dommanifest "github.com/kailas-cloud/pagedex/internal/domain/manifest"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	"github.com/kailas-cloud/pagedex/internal/metrics"
	collectionuc "github.com/kailas-cloud/pagedex/internal/usecase/collection"
	healthuc "github.com/kailas-cloud/pagedex/internal/usecase/health"
)

// multipartMemory is how much of an upload is buffered in memory before spilling to temp files.
const multipartMemory = 32 << 20

// CollectionService is the collection lifecycle.
type CollectionService interface {
	CreateAsync(ctx context.Context, name string, files []collectionuc.Upload, opts collectionuc.Options) (dommanifest.Manifest, error)
	List(ctx context.Context) ([]dommanifest.Manifest, error)
	Get(ctx context.Context, name string) (collectionuc.Status, error)
	Delete(ctx context.Context, name string) error
	PageImage(ctx context.Context, name string, index int) ([]byte, error)
}

// RetrievalService searches collections.
type RetrievalService interface {
	ResolveTopK(topK int) (int, error)
	SearchByText(ctx context.Context, collection, query string, topK int) ([]result.Hit, error)
	Retrieve(ctx context.Context, collection, query string, topK int) ([]result.Result, error)
	Ask(ctx context.Context, collection, query string, topK int) ([]result.Result, error)
}

// HealthService reports component health.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// Config holds HTTP API settings.
type Config struct {
	APIKeys        []string
	MaxUploadBytes int64
}

// Server holds the HTTP handlers.
type Server struct {
	collections CollectionService
	retrieval   RetrievalService
	health      HealthService
	cfg         Config
	logger      *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(
	collections CollectionService,
	retrieval RetrievalService,
	health HealthService,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		collections: collections,
		retrieval:   retrieval,
		health:      health,
		cfg:         cfg,
		logger:      logger,
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := gochi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEvent(s.logger))
	r.Use(BearerAuthMiddleware(s.cfg.APIKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/collections", func(r gochi.Router) {
		r.Post("/", s.CreateCollection)
		r.Get("/", s.ListCollections)
		r.Route("/{name}", func(r gochi.Router) {
			r.Get("/", s.GetCollection)
			r.Delete("/", s.DeleteCollection)
			r.Post("/search", s.Search)
			r.Post("/ask", s.Ask)
			r.Get("/pages/{index}/image", s.PageImage)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}

// CreateCollection handles POST /collections: a multipart form with a name and PDF files.
// Responds 202 with the processing manifest; ingestion continues in the background.
func (s *Server) CreateCollection(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	name := r.FormValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "collection name is required")
		return
	}

	headers := slices.Concat(r.MultipartForm.File["files"], r.MultipartForm.File["files[]"])
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "at least one PDF file is required")
		return
	}

	uploads, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	m, err := s.collections.CreateAsync(r.Context(), name, uploads, collectionuc.Options{})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/collections/"+name)
	writeJSON(w, http.StatusAccepted, m)
}

func openUploads(headers []*multipart.FileHeader) ([]collectionuc.Upload, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	uploads := make([]collectionuc.Upload, 0, len(headers))
	for _, h := range headers {
		if !strings.EqualFold(filepath.Ext(h.Filename), ".pdf") {
			return nil, closeAll, fmt.Errorf("file %q is not a PDF", h.Filename)
		}
		f, err := h.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("read %q", h.Filename)
		}
		files = append(files, f)
		uploads = append(uploads, collectionuc.Upload{Name: h.Filename, Body: f})
	}
	return uploads, closeAll, nil
}

type listResponse struct {
	Items []dommanifest.Manifest `json:"items"`
}

// ListCollections handles GET /collections.
func (s *Server) ListCollections(w http.ResponseWriter, r *http.Request) {
	items, err := s.collections.List(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []dommanifest.Manifest{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items})
}

type collectionResponse struct {
	dommanifest.Manifest
	Points int `json:"points"`
}

// GetCollection handles GET /collections/{name}.
func (s *Server) GetCollection(w http.ResponseWriter, r *http.Request) {
	st, err := s.collections.Get(r.Context(), gochi.URLParam(r, "name"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionResponse{Manifest: st.Manifest, Points: st.Points})
}

// DeleteCollection handles DELETE /collections/{name}.
func (s *Server) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.collections.Delete(r.Context(), gochi.URLParam(r, "name")); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
	Hydrate bool   `json:"hydrate"`
}

type hitResponse struct {
	ID      uint64      `json:"id"`
	Score   float64     `json:"score"`
	Payload payloadJSON `json:"payload"`
	Text    *string     `json:"text,omitempty"`
}

type payloadJSON struct {
	Index      int    `json:"index"`
	SourceName string `json:"source_name"`
	PageNumber int    `json:"page_number"`
}

type searchResponse struct {
	Hits []hitResponse `json:"hits"`
}

// Search handles POST /collections/{name}/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	name := gochi.URLParam(r, "name")

	topK, err := s.retrieval.ResolveTopK(req.TopK)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	var hits []hitResponse
	if req.Hydrate {
		results, err := s.retrieval.Retrieve(r.Context(), name, req.Query, topK)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		hits = make([]hitResponse, len(results))
		for i, res := range results {
			hits[i] = hitToResponse(res.Hit)
			if res.Page != nil {
				text := res.Page.Text
				hits[i].Text = &text
			}
		}
	} else {
		found, err := s.retrieval.SearchByText(r.Context(), name, req.Query, topK)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		hits = make([]hitResponse, len(found))
		for i, h := range found {
			hits[i] = hitToResponse(h)
		}
	}

	writeJSON(w, http.StatusOK, searchResponse{Hits: hits})
}

type askRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type answerResponse struct {
	hitResponse
	Answer      string `json:"answer"`
	AnswerError string `json:"answer_error,omitempty"`
}

type askResponse struct {
	Results []answerResponse `json:"results"`
}

// Ask handles POST /collections/{name}/ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	results, err := s.retrieval.Ask(r.Context(), gochi.URLParam(r, "name"), req.Query, req.TopK)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	out := make([]answerResponse, len(results))
	for i, res := range results {
		out[i] = answerResponse{hitResponse: hitToResponse(res.Hit), Answer: res.Answer}
		if res.AnswerErr != nil {
			out[i].AnswerError = answerErrorMessage(res.AnswerErr)
		}
	}
	writeJSON(w, http.StatusOK, askResponse{Results: out})
}

// PageImage handles GET /collections/{name}/pages/{index}/image.
func (s *Server) PageImage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(gochi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "page index must be a non-negative integer")
		return
	}

	png, err := s.collections.PageImage(r.Context(), gochi.URLParam(r, "name"), index)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type healthResponse struct {
	Status  healthuc.Status                 `json:"status"`
	Backend string                          `json:"backend,omitempty"`
	Checks  map[string]healthuc.CheckResult `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Status: report.Status, Backend: report.Backend, Checks: report.Checks})
}

// answerErrorMessage keeps per-page failures as opaque as any other internal error.
func answerErrorMessage(err error) string {
	if errors.Is(err, domain.ErrPageNotFound) {
		return domain.ErrPageNotFound.Error()
	}
	return "page could not be interpreted"
}

func hitToResponse(h result.Hit) hitResponse {
	return hitResponse{
		ID:    h.ID,
		Score: h.Score,
		Payload: payloadJSON{
			Index:      h.Payload.Index,
			SourceName: h.Payload.SourceName,
			PageNumber: h.Payload.PageNumber,
		},
	}
}
