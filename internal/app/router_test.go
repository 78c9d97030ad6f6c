package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func TestHealthzReportsChecks(t *testing.T) {
	router := NewRouter(RouterParams{
		Checks: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "ok", body.Checks["postgres"])
}

func TestHealthzDegraded(t *testing.T) {
	router := NewRouter(RouterParams{
		Checks: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("refused") },
		},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "down", body.Checks["redis"])
}

func TestRouterMountsMetricsAndJobs(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Metrics:     metrics,
		JobsHandler: jobs.NewHandler(nil, nil),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"queue":"default"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ledger_http_requests_total")
}

func TestRateLimit(t *testing.T) {
	router := NewRouter(RouterParams{RequestsPerMinute: 1})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}
