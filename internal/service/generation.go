package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/jobs"
	"github.com/iago/manga-creator-back/internal/policy"
	"github.com/iago/manga-creator-back/internal/queue"
	"github.com/iago/manga-creator-back/internal/render"
	"github.com/iago/manga-creator-back/internal/repository"
	"github.com/iago/manga-creator-back/internal/storyboard"
)

var ErrInvalidOptions = errors.New("invalid generation options")

// GenerationOptions are the per-request knobs accepted next to script_id.
type GenerationOptions struct {
	SplitDialogue *bool `json:"split_dialogue,omitempty"`
}

type GenerationDependencies struct {
	Scripts  repository.ScriptsRepository
	Jobs     repository.JobsRepository
	Manager  *jobs.Manager
	Producer queue.Producer
	Moods    storyboard.MoodTable
	// SplitDialogue is the default when a request does not set it.
	SplitDialogue bool
	Limits        policy.Limits
	// Renderer serves single-panel previews; nil reports the backend as unavailable.
	Renderer       render.Renderer
	PreviewTimeout time.Duration
	Logger         *log.Logger
}

type GenerationService struct {
	scripts        repository.ScriptsRepository
	jobs           repository.JobsRepository
	manager        *jobs.Manager
	producer       queue.Producer
	moods          storyboard.MoodTable
	splitDialogue  bool
	limits         policy.Limits
	renderer       render.Renderer
	previewTimeout time.Duration
	logger         *log.Logger
}

func NewGenerationService(deps GenerationDependencies) *GenerationService {
	if deps.PreviewTimeout <= 0 {
		deps.PreviewTimeout = 90 * time.Second
	}
	return &GenerationService{
		scripts:        deps.Scripts,
		jobs:           deps.Jobs,
		manager:        deps.Manager,
		producer:       deps.Producer,
		moods:          deps.Moods,
		splitDialogue:  deps.SplitDialogue,
		limits:         deps.Limits,
		renderer:       deps.Renderer,
		previewTimeout: deps.PreviewTimeout,
		logger:         deps.Logger,
	}
}

// Start builds the storyboard for a stored script, creates the job and schedules it.
func (s *GenerationService) Start(
	ctx context.Context,
	scriptID string,
	style string,
	options json.RawMessage,
) (*domain.Job, error) {
	record, parsedStyle, panels, err := s.storyboardFor(ctx, scriptID, style, options)
	if err != nil {
		return nil, err
	}
	if err := policy.CheckStoryboard(s.limits, len(panels)); err != nil {
		return nil, err
	}

	job, err := s.manager.CreateJob(ctx, record.ID, parsedStyle, panels, options)
	if err != nil {
		return nil, err
	}

	message := domain.QueueMessage{
		JobID:       job.ID,
		ScriptID:    job.ScriptID,
		Style:       job.Style,
		RequestedAt: job.CreatedAt,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		// The job exists but nothing will pick it up; fail it so pollers see a terminal state.
		if _, cancelErr := s.manager.Cancel(context.WithoutCancel(ctx), job.ID); cancelErr != nil && s.logger != nil {
			s.logger.Printf("failed to settle unscheduled job job_id=%s err=%v", job.ID, cancelErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	if s.logger != nil {
		s.logger.Printf("generation scheduled job_id=%s script_id=%s style=%s panels=%d",
			job.ID, job.ScriptID, job.Style, job.TotalPanels)
	}
	return job, nil
}

func (s *GenerationService) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.manager.GetStatus(ctx, jobID)
}

func (s *GenerationService) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.manager.Cancel(ctx, jobID)
}

// Resume re-schedules jobs left pending or processing by a previous process.
func (s *GenerationService) Resume(ctx context.Context) (int, error) {
	unfinished, err := s.jobs.ListJobs(ctx, domain.JobStatusPending, domain.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}

	resumed := 0
	for _, job := range unfinished {
		message := domain.QueueMessage{
			JobID:       job.ID,
			ScriptID:    job.ScriptID,
			Style:       job.Style,
			RequestedAt: time.Now().UTC(),
		}
		if err := s.producer.Enqueue(ctx, message); err != nil {
			return resumed, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		resumed++
	}
	if s.logger != nil && resumed > 0 {
		s.logger.Printf("resumed unfinished jobs count=%d", resumed)
	}
	return resumed, nil
}

// PreviewPanel renders one storyboard panel synchronously without creating a job.
// An empty panelID selects the first panel.
func (s *GenerationService) PreviewPanel(
	ctx context.Context,
	scriptID string,
	panelID string,
	style string,
	options json.RawMessage,
) (domain.RenderedPanel, error) {
	_, parsedStyle, panels, err := s.storyboardFor(ctx, scriptID, style, options)
	if err != nil {
		return domain.RenderedPanel{}, err
	}
	if len(panels) == 0 {
		return domain.RenderedPanel{}, jobs.ErrInvalidStoryboard
	}

	spec := panels[0]
	if panelID = strings.TrimSpace(panelID); panelID != "" {
		found := false
		for _, candidate := range panels {
			if candidate.PanelID == panelID {
				spec, found = candidate, true
				break
			}
		}
		if !found {
			return domain.RenderedPanel{}, fmt.Errorf("panel %s: %w", panelID, repository.ErrNotFound)
		}
	}
	if s.renderer == nil {
		return domain.RenderedPanel{}, render.Classify(spec.PanelID, render.ErrUnavailable)
	}

	renderCtx, cancel := context.WithTimeout(ctx, s.previewTimeout)
	defer cancel()
	panel, err := s.renderer.Render(renderCtx, spec, parsedStyle)
	if err != nil {
		failure := render.Classify(spec.PanelID, err)
		if s.logger != nil {
			s.logger.Printf("panel preview failed script_id=%s panel_id=%s kind=%s err=%v",
				scriptID, spec.PanelID, failure.Kind, failure.Err)
		}
		return domain.RenderedPanel{}, failure
	}
	panel.PanelID = spec.PanelID
	panel.SceneIndex = spec.SceneIndex
	if panel.GeneratedAt.IsZero() {
		panel.GeneratedAt = time.Now().UTC()
	}
	return panel, nil
}

func (s *GenerationService) storyboardFor(
	ctx context.Context,
	scriptID string,
	style string,
	options json.RawMessage,
) (*domain.Script, domain.Style, []domain.PanelSpec, error) {
	record, err := s.scripts.GetScript(ctx, scriptID)
	if err != nil {
		return nil, "", nil, err
	}

	parsedStyle := record.Style
	if strings.TrimSpace(style) != "" {
		var ok bool
		parsedStyle, ok = domain.ParseStyle(style)
		if !ok {
			return nil, "", nil, fmt.Errorf("%w: unsupported style %q", ErrInvalidOptions, style)
		}
	}

	opts, err := decodeOptions(options)
	if err != nil {
		return nil, "", nil, err
	}
	split := s.splitDialogue
	if opts.SplitDialogue != nil {
		split = *opts.SplitDialogue
	}

	builder := storyboard.NewBuilder(storyboard.Options{SplitDialogue: split, Moods: s.moods})
	return record, parsedStyle, builder.Build(record.Document), nil
}

func decodeOptions(raw json.RawMessage) (GenerationOptions, error) {
	var options GenerationOptions
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return options, nil
	}
	if err := json.Unmarshal(raw, &options); err != nil {
		return options, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return options, nil
}
