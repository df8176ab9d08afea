package cache

import (
	"testing"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
)

func TestRenderCacheRoundTrip(t *testing.T) {
	c := NewRenderCache(Config{TTL: time.Minute})
	signature := c.BuildSignature("shounen", "manga panel, forest")

	if _, ok := c.Get(signature); ok {
		t.Fatalf("expected empty cache miss")
	}
	c.Set(signature, domain.RenderedPanel{PanelID: "scene-000-panel-00", ImageReference: "/images/a.png"})

	panel, ok := c.Get(signature)
	if !ok || panel.ImageReference != "/images/a.png" {
		t.Fatalf("expected cache hit, got %+v ok=%v", panel, ok)
	}
}

func TestRenderCacheSignatureNormalizes(t *testing.T) {
	c := NewRenderCache(Config{})
	if c.BuildSignature(" Shounen ", "Prompt") != c.BuildSignature("shounen", "prompt") {
		t.Fatalf("expected case and whitespace insensitive signatures")
	}
	if c.BuildSignature("a", "bc") == c.BuildSignature("ab", "c") {
		t.Fatalf("expected part boundaries to matter")
	}
}

func TestRenderCacheEvictsWhenFull(t *testing.T) {
	c := NewRenderCache(Config{TTL: time.Minute, MaxEntries: 2})
	c.Set("one", domain.RenderedPanel{PanelID: "1"})
	time.Sleep(2 * time.Millisecond)
	c.Set("two", domain.RenderedPanel{PanelID: "2"})
	time.Sleep(2 * time.Millisecond)
	c.Set("three", domain.RenderedPanel{PanelID: "3"})

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get("one"); ok {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("three"); !ok {
		t.Fatalf("expected newest entry to be present")
	}
}
