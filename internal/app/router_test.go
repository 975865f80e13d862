package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/observability"
)

type pingHandler struct{}

func (pingHandler) MountRoutes(r chi.Router) {
	r.Get("/pos/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func newTestRouter(ready func(context.Context) error) http.Handler {
	return NewRouter(RouterParams{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:   &Config{AppEnv: "test", RateLimitPerMin: 1000},
		Metrics:  observability.NewMetrics(),
		Handlers: []Mounter{pingHandler{}},
		Ready:    ready,
	})
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestRouterHealthAndMountedRoutes(t *testing.T) {
	h := newTestRouter(nil)

	rr := serve(h, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))

	assert.Equal(t, http.StatusNoContent, serve(h, "/pos/ping").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, "/nope").Code)
}

func TestRouterReadiness(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(newTestRouter(func(context.Context) error { return nil }), "/readyz").Code)

	down := newTestRouter(func(context.Context) error { return errors.New("database is locked") })
	assert.Equal(t, http.StatusServiceUnavailable, serve(down, "/readyz").Code)
}

func TestRouterExposesMetrics(t *testing.T) {
	h := newTestRouter(nil)
	serve(h, "/healthz")

	rr := serve(h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "odyssey_pos_http_requests_total")
}
