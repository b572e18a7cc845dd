package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rat-data/ratd-core/internal/api"
)

// mockHealthChecker implements api.HealthChecker for testing.
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

// --- /health (backward compat) ---

func TestHandleHealth_ReturnsOK(t *testing.T) {
	router := api.NewRouter(&api.Server{})

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleHealth_ReturnsJSON(t *testing.T) {
	router := api.NewRouter(&api.Server{})

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

// --- /health/live ---

func TestHandleHealthLive_AlwaysReturns200(t *testing.T) {
	srv := &api.Server{
		// Even with unhealthy dependencies, liveness always returns 200.
		DBHealth: &mockHealthChecker{err: errors.New("connection refused")},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/health/live", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

// --- /health/ready ---

func TestHandleHealthReady_AllHealthy_Returns200(t *testing.T) {
	srv := &api.Server{
		DBHealth: &mockHealthChecker{err: nil},
		S3Health: &mockHealthChecker{err: nil},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body api.ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"].Status)
	assert.Equal(t, "ok", body.Checks["s3"].Status)
	assert.Len(t, body.Checks, 2)
}

func TestHandleHealthReady_PostgresDown_Returns503(t *testing.T) {
	srv := &api.Server{
		DBHealth: &mockHealthChecker{err: errors.New("connection refused")},
		S3Health: &mockHealthChecker{err: nil},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body api.ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "error", body.Checks["postgres"].Status)
	assert.Equal(t, "connection refused", body.Checks["postgres"].Error)
	assert.Equal(t, "ok", body.Checks["s3"].Status)
}

func TestHandleHealthReady_S3Down_Returns503(t *testing.T) {
	srv := &api.Server{
		DBHealth: &mockHealthChecker{err: nil},
		S3Health: &mockHealthChecker{err: errors.New("bucket not found")},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body api.ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "error", body.Checks["s3"].Status)
	assert.Equal(t, "bucket not found", body.Checks["s3"].Error)
}

func TestHandleHealthReady_NoDepsConfigured_ReturnsReady(t *testing.T) {
	router := api.NewRouter(&api.Server{})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body api.ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ready", body.Status)
	assert.Empty(t, body.Checks)
}

func TestHandleHealthReady_OnlyPostgres_ReturnsReady(t *testing.T) {
	srv := &api.Server{
		DBHealth: &mockHealthChecker{err: nil},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body api.ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ready", body.Status)
	assert.Len(t, body.Checks, 1)
	assert.Equal(t, "ok", body.Checks["postgres"].Status)
}

func TestHandleHealthReady_ReturnsJSON(t *testing.T) {
	srv := &api.Server{DBHealth: &mockHealthChecker{err: nil}}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

// --- /metrics ---

func TestHandleMetrics_ReturnsPrometheusFormat(t *testing.T) {
	router := api.NewRouter(&api.Server{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "ratd_info")
	assert.Contains(t, rec.Body.String(), "ratd_goroutines")
}
