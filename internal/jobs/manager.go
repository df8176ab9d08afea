package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/render"
	"github.com/iago/manga-creator-back/internal/repository"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Workers bounds concurrent renders inside one job.
	Workers       int
	RenderTimeout time.Duration
	Logger        *log.Logger
}

// Manager owns the generation job state machine. Every mutation of a job goes
// through the job's lock and is persisted before the lock is released.
type Manager struct {
	repo     repository.JobsRepository
	renderer render.Renderer
	workers  int
	timeout  time.Duration
	logger   *log.Logger
	now      func() time.Time
	locks    *keyedMutex

	runsMu sync.Mutex
	runs   map[string]context.CancelFunc
}

func NewManager(repo repository.JobsRepository, renderer render.Renderer, config Config) *Manager {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.RenderTimeout <= 0 {
		config.RenderTimeout = 90 * time.Second
	}
	return &Manager{
		repo:     repo,
		renderer: renderer,
		workers:  config.Workers,
		timeout:  config.RenderTimeout,
		logger:   config.Logger,
		now:      time.Now,
		locks:    newKeyedMutex(),
		runs:     make(map[string]context.CancelFunc),
	}
}

func (m *Manager) CreateJob(
	ctx context.Context,
	scriptID string,
	style domain.Style,
	storyboard []domain.PanelSpec,
	options json.RawMessage,
) (*domain.Job, error) {
	if len(storyboard) == 0 {
		return nil, ErrInvalidStoryboard
	}

	now := m.now().UTC()
	job := &domain.Job{
		ID:          uuid.NewString(),
		ScriptID:    scriptID,
		Style:       style,
		Options:     append(json.RawMessage(nil), options...),
		Status:      domain.JobStatusPending,
		Storyboard:  domain.ClonePanelSpecs(storyboard),
		TotalPanels: len(storyboard),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job.Clone(), nil
}

// GetStatus never waits on rendering.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return m.repo.GetJob(ctx, jobID)
}

// Advance renders every panel that has no stored image yet and settles the job.
// A second caller for a job that is already advancing gets the current snapshot.
// Advancing a finished job is a no-op. If ctx ends before the job settles the
// partial progress stays persisted and ctx.Err() is returned; a store failure
// while recording a panel is returned the same way, wrapped in ErrJobStore.
func (m *Manager) Advance(ctx context.Context, jobID string) (*domain.Job, error) {
	runCtx, release, started := m.startRun(ctx, jobID)
	if !started {
		return m.repo.GetJob(ctx, jobID)
	}
	defer release()

	job, pending, err := m.begin(runCtx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	var runErr error
	if len(pending) > 0 {
		runErr = m.renderAll(runCtx, job.ID, job.Style, pending)
	}
	if runErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runErr, ErrJobStore) {
		m.logf("job left processing after store failure job_id=%s err=%v", jobID, runErr)
		return nil, runErr
	}
	return m.settle(context.WithoutCancel(ctx), jobID, runErr)
}

// Cancel fails a pending or processing job with the cancelled kind and stops its renders.
func (m *Manager) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := func() (*domain.Job, error) {
		unlock := m.locks.Lock(jobID)
		defer unlock()

		job, err := m.repo.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, ErrJobAlreadyTerminal
		}

		job.Status = domain.JobStatusFailed
		job.ErrorKind = domain.ErrorKindCancelled
		job.ErrorMessage = "generation cancelled"
		job.Rendered = nil
		job.ResultPanels = nil
		job.UpdatedAt = m.now().UTC()
		if err := m.repo.UpdateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("mark cancelled: %w", err)
		}
		return job, nil
	}()
	if err != nil {
		return job, err
	}

	m.runsMu.Lock()
	if cancel, ok := m.runs[jobID]; ok {
		cancel()
	}
	m.runsMu.Unlock()

	m.logf("job cancelled job_id=%s", jobID)
	return job, nil
}

// Active returns how many jobs are currently advancing in this process.
func (m *Manager) Active() int {
	m.runsMu.Lock()
	defer m.runsMu.Unlock()
	return len(m.runs)
}

func (m *Manager) startRun(ctx context.Context, jobID string) (context.Context, func(), bool) {
	m.runsMu.Lock()
	defer m.runsMu.Unlock()

	if _, running := m.runs[jobID]; running {
		return nil, nil, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runs[jobID] = cancel

	release := func() {
		m.runsMu.Lock()
		delete(m.runs, jobID)
		m.runsMu.Unlock()
		cancel()
	}
	return runCtx, release, true
}

func (m *Manager) begin(ctx context.Context, jobID string) (*domain.Job, []domain.PanelSpec, error) {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	job, err := m.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return job, nil, nil
	}

	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.UpdatedAt = m.now().UTC()
	if err := m.repo.UpdateJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("mark processing: %w", err)
	}

	pending := make([]domain.PanelSpec, 0, len(job.Storyboard))
	for _, spec := range job.Storyboard {
		if !job.IsRendered(spec.PanelID) {
			pending = append(pending, spec)
		}
	}
	return job, pending, nil
}

func (m *Manager) renderAll(ctx context.Context, jobID string, style domain.Style, pending []domain.PanelSpec) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.workers)

	for _, spec := range pending {
		group.Go(func() error {
			panel, err := m.renderPanel(groupCtx, spec, style)
			if err != nil {
				return err
			}
			return m.record(groupCtx, jobID, panel)
		})
	}
	return group.Wait()
}

// renderPanel enforces the render timeout even when the renderer ignores its context.
func (m *Manager) renderPanel(ctx context.Context, spec domain.PanelSpec, style domain.Style) (domain.RenderedPanel, error) {
	if err := ctx.Err(); err != nil {
		return domain.RenderedPanel{}, render.Classify(spec.PanelID, err)
	}

	renderCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type outcome struct {
		panel domain.RenderedPanel
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		panel, err := m.renderer.Render(renderCtx, spec, style)
		done <- outcome{panel: panel, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			return domain.RenderedPanel{}, render.Classify(spec.PanelID, result.err)
		}
		panel := result.panel
		panel.PanelID = spec.PanelID
		panel.SceneIndex = spec.SceneIndex
		if panel.GeneratedAt.IsZero() {
			panel.GeneratedAt = m.now().UTC()
		}
		return panel, nil
	case <-renderCtx.Done():
		return domain.RenderedPanel{}, render.Classify(spec.PanelID, renderCtx.Err())
	}
}

// record applies one successful render. Completions for a finished job are discarded.
func (m *Manager) record(ctx context.Context, jobID string, panel domain.RenderedPanel) error {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	job, err := m.repo.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: load job %s: %w", ErrJobStore, jobID, err)
	}
	if job.Status.Terminal() {
		return ErrJobAlreadyTerminal
	}
	if job.IsRendered(panel.PanelID) {
		return nil
	}

	job.Rendered = append(job.Rendered, panel)
	job.CompletedPanels = len(job.Rendered)
	job.Progress = progressOf(job.CompletedPanels, job.TotalPanels)
	job.UpdatedAt = m.now().UTC()
	if err := m.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("%w: record panel %s: %w", ErrJobStore, panel.PanelID, err)
	}
	return nil
}

func (m *Manager) settle(ctx context.Context, jobID string, runErr error) (*domain.Job, error) {
	unlock := m.locks.Lock(jobID)
	defer unlock()

	job, err := m.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return job, nil
	}

	switch {
	case runErr != nil:
		failure := render.Classify("", runErr)
		m.logf("job failed job_id=%s panel_id=%s kind=%s err=%v", job.ID, failure.PanelID, failure.Kind, failure.Err)

		job.Status = domain.JobStatusFailed
		job.ErrorKind = failure.Kind
		job.ErrorMessage = failureMessage(job, failure)
		job.Rendered = nil
		job.ResultPanels = nil
	case len(job.Rendered) >= job.TotalPanels:
		job.Status = domain.JobStatusCompleted
		job.ResultPanels = orderedResults(job)
		job.CompletedPanels = job.TotalPanels
		job.Progress = 1
		m.logf("job completed job_id=%s panels=%d", job.ID, job.TotalPanels)
	default:
		return job, nil
	}

	job.UpdatedAt = m.now().UTC()
	if err := m.repo.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("settle job: %w", err)
	}
	return job, nil
}

func orderedResults(job *domain.Job) []domain.RenderedPanel {
	byID := make(map[string]domain.RenderedPanel, len(job.Rendered))
	for _, panel := range job.Rendered {
		byID[panel.PanelID] = panel
	}
	results := make([]domain.RenderedPanel, 0, len(job.Storyboard))
	for _, spec := range job.Storyboard {
		if panel, ok := byID[spec.PanelID]; ok {
			results = append(results, panel)
		}
	}
	return results
}

func failureMessage(job *domain.Job, failure *render.RenderError) string {
	position := 0
	for i, spec := range job.Storyboard {
		if spec.PanelID == failure.PanelID {
			position = i + 1
			break
		}
	}

	switch {
	case failure.Kind == domain.ErrorKindUnavailable:
		return "image generation service is unavailable"
	case position == 0:
		return "generation failed while rendering panels"
	case failure.Kind == domain.ErrorKindTimeout:
		return fmt.Sprintf("panel %d of %d timed out while rendering", position, job.TotalPanels)
	default:
		return fmt.Sprintf("panel %d of %d could not be rendered", position, job.TotalPanels)
	}
}

func progressOf(completed, total int) float64 {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 1
	}
	return float64(completed) / float64(total)
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
