package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/script"
	"github.com/iago/manga-creator-back/internal/storyboard"
)

type parseScriptRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Style   string `json:"style,omitempty"`
}

type parsedData struct {
	Title                 string            `json:"title"`
	Style                 domain.Style      `json:"style"`
	Scenes                []domain.Scene    `json:"scenes"`
	TotalScenes           int               `json:"total_scenes"`
	CharacterList         []string          `json:"character_list"`
	CharacterDescriptions map[string]string `json:"character_descriptions,omitempty"`
}

type scriptResponse struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	Content    string               `json:"content"`
	Style      domain.Style         `json:"style"`
	ParsedData parsedData           `json:"parsed_data"`
	Skipped    []script.SkippedSpan `json:"skipped,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

func newScriptResponse(record *domain.Script, skipped []script.SkippedSpan) scriptResponse {
	doc := record.Document
	scenes := doc.Scenes
	if scenes == nil {
		scenes = []domain.Scene{}
	}
	characters := doc.CharacterList
	if characters == nil {
		characters = []string{}
	}
	return scriptResponse{
		ID:      record.ID,
		Title:   record.Title,
		Content: record.Content,
		Style:   record.Style,
		ParsedData: parsedData{
			Title:                 record.Title,
			Style:                 record.Style,
			Scenes:                scenes,
			TotalScenes:           len(scenes),
			CharacterList:         characters,
			CharacterDescriptions: doc.CharacterDescriptions,
		},
		Skipped:   skipped,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func (api *API) ParseScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request parseScriptRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid payload")
		return
	}

	output, err := api.scripts.Parse(r.Context(), request.Title, request.Content, request.Style)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to parse script")
		return
	}
	writeJSON(w, http.StatusCreated, newScriptResponse(output.Script, output.Skipped))
}

func (api *API) ListScripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	filter := domain.ScriptListFilter{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}
	records, total, err := api.scripts.List(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err, "failed to list scripts")
		return
	}

	items := make([]scriptResponse, 0, len(records))
	for _, record := range records {
		items = append(items, newScriptResponse(record, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scripts":   items,
		"total":     total,
		"page":      max(filter.Page, 1),
		"page_size": len(items),
	})
}

// Script serves /api/scripts/{id} and /api/scripts/{id}/storyboard.
func (api *API) Script(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/scripts/"), "/")
	scriptID, suffix, _ := strings.Cut(rest, "/")
	scriptID = strings.TrimSpace(scriptID)
	if scriptID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "script_id is required")
		return
	}

	switch suffix {
	case "":
		record, err := api.scripts.Get(r.Context(), scriptID)
		if err != nil {
			api.writeServiceError(w, r, err, "failed to load script")
			return
		}
		writeJSON(w, http.StatusOK, newScriptResponse(record, nil))
	case "storyboard":
		panels, err := api.scripts.Storyboard(r.Context(), scriptID)
		if err != nil {
			api.writeServiceError(w, r, err, "failed to build storyboard")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"script_id":    scriptID,
			"total_panels": len(panels),
			"pages":        storyboard.Paginate(panels),
		})
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	}
}

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return value
}
