package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/repository"
)

type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, spec domain.PanelSpec) error
}

func (f *fakeRenderer) Render(ctx context.Context, spec domain.PanelSpec, _ domain.Style) (domain.RenderedPanel, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec.PanelID)
	f.mu.Unlock()

	if f.fn != nil {
		if err := f.fn(ctx, spec); err != nil {
			return domain.RenderedPanel{}, err
		}
	}
	return domain.RenderedPanel{PanelID: spec.PanelID, ImageReference: "/images/" + spec.PanelID + ".png"}, nil
}

func (f *fakeRenderer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recordingRepo keeps every persisted version of a job.
type recordingRepo struct {
	*repository.MemoryJobsRepository
	mu      sync.Mutex
	history []domain.Job
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{MemoryJobsRepository: repository.NewMemoryJobsRepository()}
}

func (r *recordingRepo) UpdateJob(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	r.history = append(r.history, *job.Clone())
	r.mu.Unlock()
	return r.MemoryJobsRepository.UpdateJob(ctx, job)
}

func storyboard(n int) []domain.PanelSpec {
	specs := make([]domain.PanelSpec, 0, n)
	for i := 0; i < n; i++ {
		specs = append(specs, domain.PanelSpec{PanelID: fmt.Sprintf("scene-%03d-panel-00", i), SceneIndex: i})
	}
	return specs
}

func newTestManager(repo repository.JobsRepository, renderer *fakeRenderer, workers int) *Manager {
	return NewManager(repo, renderer, Config{Workers: workers, RenderTimeout: time.Second})
}

func TestAdvanceCompletesAllPanelsInOrder(t *testing.T) {
	ctx := context.Background()
	renderer := &fakeRenderer{fn: func(_ context.Context, spec domain.PanelSpec) error {
		// Later panels finish first so completion order differs from storyboard order.
		time.Sleep(time.Duration(5-spec.SceneIndex) * 3 * time.Millisecond)
		return nil
	}}
	manager := newTestManager(repository.NewMemoryJobsRepository(), renderer, 3)

	job, err := manager.CreateJob(ctx, "script-1", domain.StyleShounen, storyboard(5), nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != domain.JobStatusPending || job.TotalPanels != 5 || job.CompletedPanels != 0 || job.Progress != 0 {
		t.Fatalf("unexpected new job %+v", job)
	}

	done, err := manager.Advance(ctx, job.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if done.Status != domain.JobStatusCompleted || done.CompletedPanels != 5 || done.Progress != 1.0 {
		t.Fatalf("unexpected completed job %+v", done)
	}
	if len(done.ResultPanels) != 5 {
		t.Fatalf("expected 5 result panels, got %d", len(done.ResultPanels))
	}
	for i, panel := range done.ResultPanels {
		if panel.PanelID != fmt.Sprintf("scene-%03d-panel-00", i) {
			t.Fatalf("result %d out of order: %s", i, panel.PanelID)
		}
	}
}

func TestAdvanceFailsWholeJobOnPanelError(t *testing.T) {
	ctx := context.Background()
	renderer := &fakeRenderer{fn: func(_ context.Context, spec domain.PanelSpec) error {
		if spec.SceneIndex == 2 {
			return errors.New("sampler exploded")
		}
		return nil
	}}
	repo := repository.NewMemoryJobsRepository()
	manager := newTestManager(repo, renderer, 1)

	job, _ := manager.CreateJob(ctx, "script-1", domain.StyleShounen, storyboard(5), nil)
	failed, err := manager.Advance(ctx, job.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if failed.Status != domain.JobStatusFailed || failed.ErrorKind != domain.ErrorKindRender {
		t.Fatalf("unexpected failed job %+v", failed)
	}
	if failed.ErrorMessage != "panel 3 of 5 could not be rendered" {
		t.Fatalf("unexpected error message %q", failed.ErrorMessage)
	}
	if len(failed.ResultPanels) != 0 || len(failed.Rendered) != 0 {
		t.Fatalf("expected partial renders to be discarded, got %+v", failed)
	}

	stored, _ := repo.GetJob(ctx, job.ID)
	if len(stored.Rendered) != 0 || stored.ResultPanels != nil {
		t.Fatalf("expected stored job without partial results, got %+v", stored)
	}
}

func TestCreateJobRejectsEmptyStoryboard(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	manager := newTestManager(repo, &fakeRenderer{}, 1)

	_, err := manager.CreateJob(context.Background(), "script-1", domain.StyleShounen, nil, nil)
	if !errors.Is(err, ErrInvalidStoryboard) {
		t.Fatalf("expected ErrInvalidStoryboard, got %v", err)
	}
	all, _ := repo.ListJobs(context.Background())
	if len(all) != 0 {
		t.Fatalf("expected no job record, got %d", len(all))
	}
}

func TestAdvanceProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := newRecordingRepo()
	manager := newTestManager(repo, &fakeRenderer{}, 4)

	job, _ := manager.CreateJob(ctx, "script-1", domain.StyleShounen, storyboard(12), nil)
	if _, err := manager.Advance(ctx, job.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := manager.Advance(ctx, job.ID); err != nil {
		t.Fatalf("second advance: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	last := -1
	lastProgress := -1.0
	for _, snapshot := range repo.history {
		if snapshot.CompletedPanels < last || snapshot.Progress < lastProgress {
			t.Fatalf("progress went backwards: %d/%f after %d/%f", snapshot.CompletedPanels, snapshot.Progress, last, lastProgress)
		}
		if snapshot.Progress < 0 || snapshot.Progress > 1 {
			t.Fatalf("progress out of range: %f", snapshot.Progress)
		}
		last, lastProgress = snapshot.CompletedPanels, snapshot.Progress
	}
	if last != 12 {
		t.Fatalf("expected final completed panels 12, got %d", last)
	}
}

func TestTerminalJobsAreAbsorbing(t *testing.T) {
	ctx := context.Background()
	renderer := &fakeRenderer{}
	manager := newTestManager(repository.NewMemoryJobsRepository(), renderer, 2)

	job, _ := manager.CreateJob(ctx, "script-1", domain.StyleShounen, storyboard(3), nil)
	first, _ := manager.Advance(ctx, job.ID)
	calls := len(renderer.Calls())

	again, err := manager.Advance(ctx, job.ID)
	if err != nil {
		t.Fatalf("advance on terminal job: %v", err)
	}
	if again.Status != first.Status || again.CompletedPanels != first.CompletedPanels || len(again.ResultPanels) != len(first.ResultPanels) {
		t.Fatalf("terminal job changed: %+v -> %+v", first, again)
	}
	if len(renderer.Calls()) != calls {
		t.Fatalf("expected no further renders for a terminal job")
	}

	if _, err := manager.Cancel(ctx, job.ID); !errors.Is(err, ErrJobAlreadyTerminal) {
		t.Fatalf("expected ErrJobAlreadyTerminal, got %v", err)
	}
	after, _ := manager.GetStatus(ctx, job.ID)
	if after.Status != domain.JobStatusCompleted {
		t.Fatalf("cancel mutated a completed job: %+v", after)
	}
}

func TestLateCompletionAfterCancelIsDiscarded(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	renderer := &fakeRenderer{fn: func(_ context.Context, _ domain.PanelSpec) error {
		close(entered)
		<-release
		return nil
	}}
	manager := newTestManager(repository.NewMemoryJobsRepository(), renderer, 1)

	job, _ := manager.CreateJob(ctx, "script-1", domain.StyleShounen, storyboard(1), nil)
	result := make(chan *domain.Job, 1)
	go func() {
		advanced, _ := manager.Advance(ctx, job.ID)
		result <- advanced
	}()

	<-entered
	cancelled, err := manager.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.JobStatusFailed || cancelled.ErrorKind != domain.ErrorKindCancelled {
		t.Fatalf("unexpected cancelled job %+v", cancelled)
	}
	close(release)

	final := <-result
	if final == nil || final.Status != domain.JobStatusFailed || final.ErrorKind != domain.ErrorKindCancelled {
		t.Fatalf("expected cancelled job to stay failed, got %+v", final)
	}
	stored, _ := manager.GetStatus(ctx, job.ID)
	if stored.CompletedPanels != 0 || len(stored.Rendered) != 0 {
		t.Fatalf("late completion leaked into cancelled job: %+v", stored)
	}
}

func TestConcurrentAdvanceRendersOnce(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	renderer := &fakeRenderer{fn: func(_ context.Context, _ domain.PanelSpec) error {
		entered <- struct{}{}
		<-release
		return nil
	}}
	manager := newTestManager(repository.NewMemoryJobsRepository(), renderer, 4)

	job, _ := manager.CreateJob(ctx, "script-1", domain.StyleShounen, storyboard(4), nil)
	result := make(chan *domain.Job, 1)
	go func() {
		advanced, _ := manager.Advance(ctx, job.ID)
		result <- advanced
	}()
	<-entered

	snapshot, err := manager.Advance(ctx, job.ID)
	if err != nil {
		t.Fatalf("concurrent advance: %v", err)
	}
	if snapshot.Status != domain.JobStatusProcessing {
		t.Fatalf("expected processing snapshot, got %s", snapshot.Status)
	}
	close(release)

	final := <-result
	if final.Status != domain.JobStatusCompleted || final.CompletedPanels != 4 {
		t.Fatalf("unexpected final job %+v", final)
	}
	if got := len(renderer.Calls()); got != 4 {
		t.Fatalf("expected 4 renders, got %d", got)
	}
}

func TestAdvanceTimesOutStuckRenderer(t *testing.T) {
	ctx := context.Background()
	stuck := make(chan struct{})
	defer close(stuck)
	renderer := &fakeRenderer{fn: func(_ context.Context, _ domain.PanelSpec) error {
		// Ignores ctx on purpose.
		<-stuck
		return nil
	}}
	manager := NewManager(repository.NewMemoryJobsRepository(), renderer, Config{Workers: 1, RenderTimeout: 30 * time.Millisecond})

	job, _ := manager.CreateJob(ctx, "script-1", domain.StyleShounen, storyboard(2), nil)
	started := time.Now()
	failed, err := manager.Advance(ctx, job.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if time.Since(started) > 2*time.Second {
		t.Fatalf("advance did not honor the render timeout")
	}
	if failed.Status != domain.JobStatusFailed || failed.ErrorKind != domain.ErrorKindTimeout {
		t.Fatalf("expected timeout failure, got %+v", failed)
	}
	if failed.ErrorMessage != "panel 1 of 2 timed out while rendering" {
		t.Fatalf("unexpected error message %q", failed.ErrorMessage)
	}
}

func TestAdvanceResumesFromPersistedProgress(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryJobsRepository()
	renderer := &fakeRenderer{}
	manager := newTestManager(repo, renderer, 2)

	job, _ := manager.CreateJob(ctx, "script-1", domain.StyleShounen, storyboard(5), nil)
	stored, _ := repo.GetJob(ctx, job.ID)
	stored.Status = domain.JobStatusProcessing
	stored.Rendered = []domain.RenderedPanel{
		{PanelID: "scene-001-panel-00", SceneIndex: 1, ImageReference: "/images/one.png"},
		{PanelID: "scene-000-panel-00", ImageReference: "/images/zero.png"},
	}
	stored.CompletedPanels = 2
	stored.Progress = 0.4
	if err := repo.UpdateJob(ctx, stored); err != nil {
		t.Fatalf("seed progress: %v", err)
	}

	done, err := manager.Advance(ctx, job.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got := len(renderer.Calls()); got != 3 {
		t.Fatalf("expected only 3 missing panels to render, got %d (%v)", got, renderer.Calls())
	}
	if done.Status != domain.JobStatusCompleted || done.ResultPanels[0].ImageReference != "/images/zero.png" {
		t.Fatalf("unexpected resumed job %+v", done)
	}
}

func TestAdvanceStopsOnCallerCancellationWithoutFailing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	renderer := &fakeRenderer{fn: func(renderCtx context.Context, spec domain.PanelSpec) error {
		if spec.SceneIndex == 1 {
			once.Do(cancel)
			<-renderCtx.Done()
			return renderCtx.Err()
		}
		return nil
	}}
	repo := repository.NewMemoryJobsRepository()
	manager := newTestManager(repo, renderer, 1)

	job, _ := manager.CreateJob(context.Background(), "script-1", domain.StyleShounen, storyboard(3), nil)
	if _, err := manager.Advance(ctx, job.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	stored, _ := repo.GetJob(context.Background(), job.ID)
	if stored.Status != domain.JobStatusProcessing || stored.CompletedPanels != 1 {
		t.Fatalf("expected resumable processing job, got %+v", stored)
	}
}

func TestStatusAndCancelUnknownJob(t *testing.T) {
	manager := newTestManager(repository.NewMemoryJobsRepository(), &fakeRenderer{}, 1)
	if _, err := manager.GetStatus(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := manager.Cancel(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on cancel, got %v", err)
	}
	if _, err := manager.Advance(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on advance, got %v", err)
	}
}

// flakyRepo fails the nth UpdateJob call once.
type flakyRepo struct {
	*repository.MemoryJobsRepository
	mu     sync.Mutex
	calls  int
	failOn int
}

func (r *flakyRepo) UpdateJob(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls == r.failOn
	r.mu.Unlock()
	if fail {
		return errors.New("conn reset by peer")
	}
	return r.MemoryJobsRepository.UpdateJob(ctx, job)
}

func TestAdvanceStoreFailureKeepsJobResumable(t *testing.T) {
	ctx := context.Background()
	// Call 1 marks processing, call 2 records the first panel, call 3 fails.
	repo := &flakyRepo{MemoryJobsRepository: repository.NewMemoryJobsRepository(), failOn: 3}
	renderer := &fakeRenderer{}
	manager := newTestManager(repo, renderer, 1)

	job, err := manager.CreateJob(ctx, "script-1", domain.StyleShounen, storyboard(3), nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := manager.Advance(ctx, job.ID); !errors.Is(err, ErrJobStore) {
		t.Fatalf("expected ErrJobStore, got %v", err)
	}

	stored, _ := repo.GetJob(ctx, job.ID)
	if stored.Status != domain.JobStatusProcessing || stored.ErrorKind != "" {
		t.Fatalf("expected processing job without error, got %+v", stored)
	}
	if stored.CompletedPanels != 1 {
		t.Fatalf("expected saved progress of 1 panel, got %d", stored.CompletedPanels)
	}

	done, err := manager.Advance(ctx, job.ID)
	if err != nil {
		t.Fatalf("second advance: %v", err)
	}
	if done.Status != domain.JobStatusCompleted || len(done.ResultPanels) != 3 {
		t.Fatalf("expected completed job with 3 panels, got %+v", done)
	}
	if got := len(renderer.Calls()); got != 4 {
		t.Fatalf("expected 4 renders (panel lost to the failed write is redone), got %d", got)
	}
}
