package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/http/middleware"
	"github.com/iago/manga-creator-back/internal/jobs"
	"github.com/iago/manga-creator-back/internal/policy"
	"github.com/iago/manga-creator-back/internal/queue"
	"github.com/iago/manga-creator-back/internal/render"
	"github.com/iago/manga-creator-back/internal/repository"
	"github.com/iago/manga-creator-back/internal/service"
	"github.com/iago/manga-creator-back/internal/status"
)

var errInvalidPayload = errors.New("invalid payload")

// pollIntervalSeconds is sent as Retry-After on accepted jobs.
const pollIntervalSeconds = 2

// maxBodyBytes leaves headroom over the script content limit for the JSON envelope.
const maxBodyBytes = 1 << 20

// Pinger is any backing service the health endpoint can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type APIDependencies struct {
	Scripts    *service.ScriptsService
	Generation *service.GenerationService
	Reporter   *status.Reporter
	// Renderer and Queue are optional; nil means not probed.
	Renderer Pinger
	Queue    Pinger
	// ActiveJobs reports jobs currently being advanced in this process.
	ActiveJobs func() int
	Logger     *log.Logger
}

type API struct {
	scripts     *service.ScriptsService
	generation  *service.GenerationService
	reporter    *status.Reporter
	renderer    Pinger
	queue       Pinger
	activeJobs  func() int
	logger      *log.Logger
	idempotency *idempotencyStore
}

func NewAPI(deps APIDependencies) *API {
	reporter := deps.Reporter
	if reporter == nil {
		reporter = status.NewReporter(status.DefaultPhaseTable())
	}
	return &API{
		scripts:     deps.Scripts,
		generation:  deps.Generation,
		reporter:    reporter,
		renderer:    deps.Renderer,
		queue:       deps.Queue,
		activeJobs:  deps.ActiveJobs,
		logger:      deps.Logger,
		idempotency: newIdempotencyStore(24 * time.Hour),
	}
}

type errorPayload struct {
	Error struct {
		Code       string             `json:"code"`
		Message    string             `json:"message"`
		Violations []policy.Violation `json:"violations,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps domain errors to HTTP responses. Anything unknown is
// logged and reported with the fallback message.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		violation *policy.ViolationError
		renderErr *render.RenderError
	)
	switch {
	case errors.As(err, &violation):
		payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
		payload.Error.Code = "invalid_request"
		payload.Error.Message = violation.Error()
		payload.Error.Violations = violation.Violations
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, service.ErrInvalidOptions):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, jobs.ErrInvalidStoryboard):
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_storyboard", "script has no scenes to render")
	case errors.Is(err, jobs.ErrJobAlreadyTerminal):
		writeError(w, r, http.StatusConflict, "job_terminal", "job already finished")
	case errors.As(err, &renderErr):
		switch renderErr.Kind {
		case domain.ErrorKindTimeout:
			writeError(w, r, http.StatusGatewayTimeout, "render_timeout", "panel rendering timed out")
		case domain.ErrorKindUnavailable:
			writeError(w, r, http.StatusServiceUnavailable, "renderer_unavailable", "image generation service is unavailable")
		default:
			writeError(w, r, http.StatusBadGateway, "render_failed", "panel could not be rendered")
		}
	case errors.Is(err, queue.ErrQueueFull):
		w.Header().Set("Retry-After", strconv.Itoa(pollIntervalSeconds))
		writeError(w, r, http.StatusServiceUnavailable, "queue_full", "generation queue is full")
	default:
		if api.logger != nil {
			api.logger.Printf("request failed request_id=%s path=%s err=%v",
				middleware.GetRequestID(r.Context()), r.URL.Path, err)
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", fallback)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
