package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	logpkg "github.com/kailas-cloud/pagedex/internal/logger"
)

// Error codes returned in errorResponse.Code.
const (
	codeBadRequest              = "bad_request"
	codeUnauthorized            = "unauthorized"
	codeValidationFailed        = "validation_failed"
	codeCollectionNotFound      = "collection_not_found"
	codeCollectionAlreadyExists = "collection_already_exists"
	codePageNotFound            = "page_not_found"
	codeInvalidTopK             = "invalid_top_k"
	codeEmbeddingServiceError   = "embedding_service_error"
	codeStoreUnavailable        = "store_unavailable"
	codeInterpreterDisabled     = "interpreter_disabled"
	codeInternalError           = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// errorHandlers are tried in order; the gateway sentinel comes before the dimension
// mismatch because a malformed gateway reply wraps both.
var errorHandlers = []errorHandler{
	sentinelHandler(domain.ErrCollectionAlreadyExists, http.StatusConflict, codeCollectionAlreadyExists),
	sentinelHandler(domain.ErrCollectionNotFound, http.StatusNotFound, codeCollectionNotFound),
	sentinelHandler(domain.ErrPageNotFound, http.StatusNotFound, codePageNotFound),
	sentinelHandler(domain.ErrInvalidTopK, http.StatusBadRequest, codeInvalidTopK),
	sentinelHandler(domain.ErrInvalidSchema, http.StatusBadRequest, codeValidationFailed),
	sentinelHandler(domain.ErrEmbeddingService, http.StatusBadGateway, codeEmbeddingServiceError),
	sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeValidationFailed),
	sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable),
	sentinelHandler(domain.ErrInterpreterDisabled, http.StatusNotImplemented, codeInterpreterDisabled),
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// The client only ever sees the sentinel's message.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logpkg.FromContext(r.Context())
	for _, h := range errorHandlers {
		if h(w, err) {
			logger.Warn("domain error", zap.Error(err))
			return
		}
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
