package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/iago/manga-creator-back/internal/http/middleware"
	"github.com/iago/manga-creator-back/internal/jobs"
)

type generateRequest struct {
	ScriptID string          `json:"script_id"`
	Style    string          `json:"style,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
}

func (api *API) GenerateManga(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request generateRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid payload")
		return
	}
	request.ScriptID = strings.TrimSpace(request.ScriptID)
	if request.ScriptID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "script_id is required")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		api.startGeneration(w, r, request)
		return
	}

	payloadHash := hashPayload(request)
	for attempt := 0; attempt < maxReservationAttempts; attempt++ {
		entry, reserved := api.idempotency.Reserve(idempotencyKey, payloadHash)
		if reserved {
			jobID, ok := api.startGeneration(w, r, request)
			if !ok {
				api.idempotency.Release(idempotencyKey, entry)
				return
			}
			api.idempotency.Complete(entry, jobID)
			return
		}
		if entry == nil {
			continue
		}
		if entry.payloadHash != payloadHash {
			writeError(w, r, http.StatusConflict, "idempotency_conflict", "idempotency key reused with different payload")
			return
		}

		jobID, err := entry.Wait(r.Context())
		if err != nil {
			return
		}
		if jobID == "" {
			continue
		}
		job, err := api.generation.Status(r.Context(), jobID)
		if err != nil {
			api.writeServiceError(w, r, err, "failed to load job")
			return
		}
		api.writeAccepted(w, job.ID, string(job.Status), job.TotalPanels)
		return
	}
	writeError(w, r, http.StatusConflict, "idempotency_conflict", "request with this idempotency key is still in progress")
}

// maxReservationAttempts bounds retries when concurrent holders of a key keep failing.
const maxReservationAttempts = 3

func (api *API) startGeneration(w http.ResponseWriter, r *http.Request, request generateRequest) (string, bool) {
	job, err := api.generation.Start(r.Context(), request.ScriptID, request.Style, request.Options)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to start generation")
		return "", false
	}
	api.writeAccepted(w, job.ID, string(job.Status), job.TotalPanels)
	return job.ID, true
}

func (api *API) writeAccepted(w http.ResponseWriter, jobID, status string, totalPanels int) {
	w.Header().Set("Retry-After", strconv.Itoa(pollIntervalSeconds))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       jobID,
		"status":       status,
		"status_url":   "/api/generate/status/" + jobID,
		"total_panels": totalPanels,
	})
}

func (api *API) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := pathID(r, "/api/generate/status/")
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.generation.Status(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to load job")
		return
	}
	if !job.Status.Terminal() {
		w.Header().Set("Retry-After", strconv.Itoa(pollIntervalSeconds))
	}
	writeJSON(w, http.StatusOK, api.reporter.Report(*job))
}

func (api *API) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := pathID(r, "/api/generate/cancel/")
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.generation.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobAlreadyTerminal) && job != nil {
			payload := map[string]any{
				"error": map[string]string{
					"code":    "job_terminal",
					"message": "job already finished",
				},
				"job":        api.reporter.Report(*job),
				"request_id": middleware.GetRequestID(r.Context()),
			}
			writeJSON(w, http.StatusConflict, payload)
			return
		}
		api.writeServiceError(w, r, err, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, api.reporter.Report(*job))
}

type previewPanelRequest struct {
	ScriptID string          `json:"script_id"`
	PanelID  string          `json:"panel_id,omitempty"`
	Style    string          `json:"style,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
}

// PreviewPanel renders a single storyboard panel synchronously.
func (api *API) PreviewPanel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request previewPanelRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid payload")
		return
	}
	request.ScriptID = strings.TrimSpace(request.ScriptID)
	if request.ScriptID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "script_id is required")
		return
	}

	panel, err := api.generation.PreviewPanel(r.Context(), request.ScriptID, request.PanelID, request.Style, request.Options)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to render panel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"script_id": request.ScriptID,
		"panel":     panel,
	})
}

func pathID(r *http.Request, prefix string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
}
