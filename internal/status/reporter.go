package status

import (
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/storyboard"
)

// Phase labels progress strictly below Below.
type Phase struct {
	Below float64 `toml:"below" json:"below"`
	Label string  `toml:"label" json:"label"`
}

type PhaseTable struct {
	Phases    []Phase `toml:"phases" json:"phases"`
	Final     string  `toml:"final" json:"final"`
	Pending   string  `toml:"pending" json:"pending"`
	Completed string  `toml:"completed" json:"completed"`
	Failed    string  `toml:"failed" json:"failed"`
	Cancelled string  `toml:"cancelled" json:"cancelled"`
}

func DefaultPhaseTable() PhaseTable {
	return PhaseTable{
		Phases: []Phase{
			{Below: 0.20, Label: "analyzing structure"},
			{Below: 0.40, Label: "generating character artwork"},
			{Below: 0.60, Label: "creating backgrounds"},
			{Below: 0.80, Label: "adding dialogue elements"},
		},
		Final:     "finalizing layout",
		Pending:   "preparing generation",
		Completed: "generation completed",
		Failed:    "generation failed",
		Cancelled: "generation cancelled",
	}
}

type Snapshot struct {
	JobID           string           `json:"job_id"`
	ScriptID        string           `json:"script_id"`
	Style           domain.Style     `json:"style"`
	Status          domain.JobStatus `json:"status"`
	Phase           string           `json:"phase"`
	Progress        float64          `json:"progress"`
	CompletedPanels int              `json:"completed_panels"`
	TotalPanels     int              `json:"total_panels"`
	ResultData      *ResultData      `json:"result_data,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ErrorKind       domain.ErrorKind `json:"error_kind,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type ResultData struct {
	Panels []ResultPanel `json:"panels"`
	Pages  []ResultPage  `json:"pages"`
}

type ResultPanel struct {
	domain.RenderedPanel
	Page         int           `json:"page"`
	PagePosition int           `json:"page_position"`
	Layout       domain.Layout `json:"layout"`
}

type ResultPage struct {
	Number   int      `json:"page"`
	PanelIDs []string `json:"panel_ids"`
}

// Reporter projects job snapshots into client payloads. It has no side effects.
type Reporter struct {
	table PhaseTable
}

func NewReporter(table PhaseTable) *Reporter {
	defaults := DefaultPhaseTable()
	if len(table.Phases) == 0 {
		table.Phases = defaults.Phases
	}
	if table.Final == "" {
		table.Final = defaults.Final
	}
	if table.Pending == "" {
		table.Pending = defaults.Pending
	}
	if table.Completed == "" {
		table.Completed = defaults.Completed
	}
	if table.Failed == "" {
		table.Failed = defaults.Failed
	}
	if table.Cancelled == "" {
		table.Cancelled = defaults.Cancelled
	}
	return &Reporter{table: table}
}

func (r *Reporter) Phase(job domain.Job) string {
	switch job.Status {
	case domain.JobStatusPending:
		return r.table.Pending
	case domain.JobStatusCompleted:
		return r.table.Completed
	case domain.JobStatusFailed:
		if job.ErrorKind == domain.ErrorKindCancelled {
			return r.table.Cancelled
		}
		return r.table.Failed
	}

	progress := clamp(job.Progress)
	for _, phase := range r.table.Phases {
		if progress < phase.Below {
			return phase.Label
		}
	}
	return r.table.Final
}

func (r *Reporter) Report(job domain.Job) Snapshot {
	snapshot := Snapshot{
		JobID:           job.ID,
		ScriptID:        job.ScriptID,
		Style:           job.Style,
		Status:          job.Status,
		Phase:           r.Phase(job),
		Progress:        clamp(job.Progress),
		CompletedPanels: job.CompletedPanels,
		TotalPanels:     job.TotalPanels,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		snapshot.ResultData = resultData(job)
	case domain.JobStatusFailed:
		snapshot.ErrorMessage = job.ErrorMessage
		snapshot.ErrorKind = job.ErrorKind
	}
	return snapshot
}

func resultData(job domain.Job) *ResultData {
	data := &ResultData{
		Panels: make([]ResultPanel, 0, len(job.ResultPanels)),
		Pages:  make([]ResultPage, 0, (len(job.ResultPanels)+storyboard.PanelsPerPage-1)/storyboard.PanelsPerPage),
	}
	for i, panel := range job.ResultPanels {
		page, position := storyboard.PagePosition(i)
		data.Panels = append(data.Panels, ResultPanel{
			RenderedPanel: panel,
			Page:          page,
			PagePosition:  position,
			Layout:        storyboard.LayoutFor(i),
		})
		if position == 0 {
			data.Pages = append(data.Pages, ResultPage{Number: page})
		}
		current := &data.Pages[len(data.Pages)-1]
		current.PanelIDs = append(current.PanelIDs, panel.PanelID)
	}
	return data
}

func clamp(progress float64) float64 {
	if progress < 0 {
		return 0
	}
	if progress > 1 {
		return 1
	}
	return progress
}
