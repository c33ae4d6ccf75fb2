package api

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck is the basic liveness endpoint for load balancers.
//
//	GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DetailedHealthCheck reports per-dependency health: database, progress
// store, broker.
//
//	GET /health/detailed
func (h *Handlers) DetailedHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]interface{}{}
	overall := "healthy"

	record := func(name string, err error) {
		if err != nil {
			overall = "unhealthy"
			components[name] = map[string]string{"status": "unhealthy", "message": err.Error()}
			return
		}
		components[name] = map[string]string{"status": "healthy"}
	}

	record("database", h.db.PingContext(ctx))
	record("redis", h.rdb.Ping(ctx).Err())
	record("broker", h.broker.Ping(ctx).Err())

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}
