package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByStatus(t *testing.T) {
	Init()
	ok200 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	nf404 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))
	implicit := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "200"))

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/state", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/v1/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	// Handlers that never call WriteHeader still count as 200.
	r.Post("/v1/run-once", func(http.ResponseWriter, *http.Request) {})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/state", nil),
		httptest.NewRequest(http.MethodGet, "/v1/missing", nil),
		httptest.NewRequest(http.MethodPost, "/v1/run-once", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Equal(t, ok200+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")))
	require.Equal(t, nf404+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")))
	require.Equal(t, implicit+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "200")))
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestRoutePatternFallsBackToUnknown(t *testing.T) {
	t.Parallel()
	require.Equal(t, "unknown", routePattern(httptest.NewRequest(http.MethodGet, "/nowhere", nil)))
}
