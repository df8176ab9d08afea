package handlers

import (
	"context"
	"net/http"
	"time"
)

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := map[string]any{"status": "ok"}
	checks := map[string]string{}
	if api.renderer != nil {
		checks["renderer"] = probe(ctx, api.renderer)
	}
	if api.queue != nil {
		checks["queue"] = probe(ctx, api.queue)
		if checks["queue"] != "ok" {
			response["status"] = "degraded"
		}
	}
	if len(checks) > 0 {
		response["checks"] = checks
	}
	if api.activeJobs != nil {
		response["active_jobs"] = api.activeJobs()
	}
	writeJSON(w, http.StatusOK, response)
}

// Root mirrors the service banner at /api/ and answers unknown API paths.
func (api *API) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/" && r.URL.Path != "/api" {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Manga Creator API", "version": "1.0.0"})
}

func probe(ctx context.Context, target Pinger) string {
	if err := target.Ping(ctx); err != nil {
		return "unavailable"
	}
	return "ok"
}
