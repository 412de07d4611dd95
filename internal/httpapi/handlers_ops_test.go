package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/kissvdb/internal/health"
)

func TestLivenessAlwaysHealthy(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body health.LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestReadinessReflectsCheckerState(t *testing.T) {
	srv, deps := newTestServer(t)
	checker := health.New()
	deps.Ready = checker.IsReady

	w := doJSON(t, srv.Handler(), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	checker.MarkReady()
	w = doJSON(t, srv.Handler(), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
	assert.Contains(t, body, "wal_retention_window_hint")
}

func TestMetricsEndpointMountedWhenEnabled(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kissvdb_")
}
