package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type ErrorKind string

const (
	ErrorKindRender      ErrorKind = "render_error"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindCancelled   ErrorKind = "cancelled"
)

// RenderedPanel is the image produced for one PanelSpec.
type RenderedPanel struct {
	PanelID        string    `json:"panel_id"`
	SceneIndex     int       `json:"scene_index"`
	ImageReference string    `json:"image_url"`
	Prompt         string    `json:"prompt,omitempty"`
	Model          string    `json:"model,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Job is one asynchronous generation request. Rendered holds per-panel
// progress while processing; ResultPanels is only populated on completion.
type Job struct {
	ID              string
	ScriptID        string
	Style           Style
	Options         json.RawMessage
	Status          JobStatus
	Storyboard      []PanelSpec
	TotalPanels     int
	CompletedPanels int
	Progress        float64
	Rendered        []RenderedPanel
	ResultPanels    []RenderedPanel
	ErrorKind       ErrorKind
	ErrorMessage    string
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Options = append(json.RawMessage(nil), j.Options...)
	clone.Storyboard = ClonePanelSpecs(j.Storyboard)
	clone.Rendered = append([]RenderedPanel(nil), j.Rendered...)
	clone.ResultPanels = append([]RenderedPanel(nil), j.ResultPanels...)
	return &clone
}

// IsRendered reports whether a panel already has a stored render.
func (j *Job) IsRendered(panelID string) bool {
	for _, panel := range j.Rendered {
		if panel.PanelID == panelID {
			return true
		}
	}
	return false
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID       string    `json:"job_id"`
	ScriptID    string    `json:"script_id"`
	Style       Style     `json:"style"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}
