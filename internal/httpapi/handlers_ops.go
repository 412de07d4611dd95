package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devrev/kissvdb/internal/health"
)

func (d *Deps) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health.LivenessResponse{Status: "healthy"})
}

func (d *Deps) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if d.Ready == nil || !d.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, health.ReadinessResponse{Status: "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                    "ready",
		"wal_retention_window_hint": d.Cfg.WALRetentionWindowHint(),
	})
}

func (d *Deps) metricsHandler() http.Handler {
	if d.Metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})
}
