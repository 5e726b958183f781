package chi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	logpkg "github.com/kailas-cloud/pagedex/internal/logger"
)

func TestWideEvent_RequestLoggerInContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logpkg.FromContext(r.Context()).Info("handled")
		w.WriteHeader(http.StatusNoContent)
	})
	h := chiMiddleware.RequestID(WideEvent(zap.New(core))(handler))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/collections", http.NoBody))

	reqID := rr.Header().Get("X-Request-ID")
	if reqID == "" {
		t.Fatal("expected X-Request-ID header")
	}
	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected handler and request entries, got %d", len(entries))
	}
	for _, e := range entries {
		if got := e.ContextMap()["request_id"]; got != reqID {
			t.Errorf("%s: expected request_id %q, got %v", e.Message, reqID, got)
		}
	}
	if entries[1].Message != "http_request" || entries[1].ContextMap()["status"] != int64(http.StatusNoContent) {
		t.Errorf("unexpected request entry %+v", entries[1])
	}
}
