// Package server exposes the engine's administrative HTTP surface: health,
// status, manual sync triggers, and Prometheus metrics. It binds to loopback
// by default and carries no auth; it is an operator tool, not an API.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tsengko/pulsefeed-sync/internal/logging"
	"github.com/tsengko/pulsefeed-sync/internal/sync/queue"
	"github.com/tsengko/pulsefeed-sync/internal/sync/scheduler"
)

// NewRouter builds the admin router.
func NewRouter(sched *scheduler.Scheduler, q *queue.Manager, reg *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if _, err := q.Stats(); err != nil {
			logging.Error("Health check failed", err, nil)
			http.Error(w, "store unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, sched.GetStatus())
	})

	// triggerImmediateSync: resets exhausted items and drains synchronously.
	r.Post("/sync/now", func(w http.ResponseWriter, req *http.Request) {
		result, err := sched.SyncNow(req.Context())
		if err != nil {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":  err.Error(),
				"result": result,
			})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	// Fire-and-forget drain; detached from the request context so the pass
	// survives the response.
	r.Post("/sync/trigger", func(w http.ResponseWriter, req *http.Request) {
		started := sched.TriggerSync(context.Background())
		writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
	})

	// cancelSync: removes the periodic recurrence; an in-flight drain is
	// left to finish.
	r.Post("/sync/cancel", func(w http.ResponseWriter, req *http.Request) {
		sched.Stop()
		writeJSON(w, http.StatusOK, map[string]bool{"running": sched.IsRunning()})
	})

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}
