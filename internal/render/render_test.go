package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/manga-creator-back/internal/cache"
	"github.com/iago/manga-creator-back/internal/domain"
)

type countingRenderer struct {
	calls int32
}

func (r *countingRenderer) Render(_ context.Context, spec domain.PanelSpec, _ domain.Style) (domain.RenderedPanel, error) {
	n := atomic.AddInt32(&r.calls, 1)
	return domain.RenderedPanel{PanelID: spec.PanelID, ImageReference: "/images/" + string(rune('a'+n)) + ".png"}, nil
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(testSpec(), domain.StyleShounen)
	want := "manga panel, shounen style, character: young swordsman, location: Forest at night, " +
		"action: Akira draws a sword, dramatic lighting, dynamic pose, action lines, " +
		"high quality, detailed, black and white manga art, professional illustration"
	if prompt != want {
		t.Fatalf("unexpected prompt\n got: %s\nwant: %s", prompt, want)
	}

	neutral := BuildPrompt(domain.PanelSpec{PanelID: "p", Mood: "neutral"}, domain.StyleHorror)
	if neutral != "manga panel, horror style, high quality, detailed, black and white manga art, professional illustration" {
		t.Fatalf("unexpected neutral prompt %q", neutral)
	}
}

func TestModelRouterSelect(t *testing.T) {
	router := NewModelRouter(ModelRouterConfig{Checkpoints: map[domain.Style]string{domain.StyleComedy: "custom"}})
	if got := router.Select(domain.StyleSeinen).Checkpoint; got != "realisticVision_v60b1" {
		t.Fatalf("unexpected seinen checkpoint %q", got)
	}
	if got := router.Select(domain.StyleComedy).Checkpoint; got != "custom" {
		t.Fatalf("expected override, got %q", got)
	}
	if got := router.Select("unknown").Checkpoint; got != "anythingV5_PrtRE" {
		t.Fatalf("expected default style checkpoint, got %q", got)
	}
}

func TestPlaceholderRendererWritesPNG(t *testing.T) {
	store := testStore(t)
	panel, err := NewPlaceholderRenderer(store).Render(context.Background(), testSpec(), domain.StyleShounen)
	if err != nil {
		t.Fatalf("expected placeholder render, got %v", err)
	}
	data, err := os.ReadFile(filepath.Join(store.Dir(), strings.TrimPrefix(panel.ImageReference, "/images/")))
	if err != nil {
		t.Fatalf("read placeholder: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode placeholder: %v", err)
	}
	if img.Bounds().Dx() != PanelWidth || img.Bounds().Dy() != PanelHeight {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if panel.Model != PlaceholderModel {
		t.Fatalf("unexpected model %q", panel.Model)
	}
}

func TestPlaceholderRendererHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPlaceholderRenderer(testStore(t)).Render(ctx, testSpec(), domain.StyleShounen)
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}

func TestImageStoreIsContentAddressed(t *testing.T) {
	store := testStore(t)
	first, err := store.Save("scene/1", []byte("same"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := store.Save("scene/1", []byte("same"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first != second || strings.Contains(strings.TrimPrefix(first, "/images/"), "/") {
		t.Fatalf("unexpected urls %q %q", first, second)
	}
	if _, err := store.Save("x", nil); err == nil {
		t.Fatalf("expected error on empty payload")
	}
}

func TestCachedRendererReusesPrompt(t *testing.T) {
	inner := &countingRenderer{}
	renderer := NewCached(inner, cache.NewRenderCache(cache.Config{TTL: time.Minute}))

	spec := testSpec()
	first, _ := renderer.Render(context.Background(), spec, domain.StyleShounen)
	spec.PanelID = "scene-001-panel-00"
	spec.SceneIndex = 1
	second, _ := renderer.Render(context.Background(), spec, domain.StyleShounen)

	if atomic.LoadInt32(&inner.calls) != 1 {
		t.Fatalf("expected a single upstream render, got %d", inner.calls)
	}
	if second.ImageReference != first.ImageReference || second.PanelID != "scene-001-panel-00" {
		t.Fatalf("unexpected cached panel %+v", second)
	}

	if _, err := renderer.Render(context.Background(), spec, domain.StyleHorror); err != nil {
		t.Fatalf("render: %v", err)
	}
	if atomic.LoadInt32(&inner.calls) != 2 {
		t.Fatalf("expected style change to miss the cache")
	}
}

func TestRateLimitedRespectsDeadline(t *testing.T) {
	inner := &countingRenderer{}
	renderer := NewRateLimited(inner, 0.001, 1)

	if _, err := renderer.Render(context.Background(), testSpec(), domain.StyleShounen); err != nil {
		t.Fatalf("expected first call to use the burst token, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := renderer.Render(ctx, testSpec(), domain.StyleShounen)
	renderErr := Classify("", err)
	if renderErr == nil || renderErr.Kind != domain.ErrorKindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestClassifyDoesNotModifySharedError(t *testing.T) {
	shared := &RenderError{Kind: domain.ErrorKindUnavailable, Err: ErrUnavailable}
	wrapped := fmt.Errorf("backend: %w", shared)

	first := Classify("scene-000-panel-00", wrapped)
	second := Classify("scene-001-panel-00", wrapped)
	if shared.PanelID != "" {
		t.Fatalf("expected shared error untouched, got panel id %q", shared.PanelID)
	}
	if first.PanelID != "scene-000-panel-00" || second.PanelID != "scene-001-panel-00" {
		t.Fatalf("unexpected panel ids %q %q", first.PanelID, second.PanelID)
	}
	if first.Kind != domain.ErrorKindUnavailable || !errors.Is(first, ErrUnavailable) {
		t.Fatalf("expected unavailable kind to be kept, got %+v", first)
	}
}
