package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusAccepted, map[string]string{"status": "ok"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, http.StatusServiceUnavailable, "Queue Unavailable", "redis down")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ProblemDetail{Type: "about:blank", Title: "Queue Unavailable", Status: 503, Detail: "redis down"}, body)
}
