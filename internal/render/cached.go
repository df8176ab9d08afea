package render

import (
	"context"

	"github.com/iago/manga-creator-back/internal/cache"
	"github.com/iago/manga-creator-back/internal/domain"
)

// Cached reuses a previous render when the same style and prompt come back.
type Cached struct {
	next  Renderer
	cache *cache.RenderCache
}

func NewCached(next Renderer, renderCache *cache.RenderCache) *Cached {
	return &Cached{next: next, cache: renderCache}
}

func (c *Cached) Render(ctx context.Context, spec domain.PanelSpec, style domain.Style) (domain.RenderedPanel, error) {
	signature := c.cache.BuildSignature(string(style), BuildPrompt(spec, style))
	if cached, ok := c.cache.Get(signature); ok {
		cached.PanelID = spec.PanelID
		cached.SceneIndex = spec.SceneIndex
		return cached, nil
	}

	panel, err := c.next.Render(ctx, spec, style)
	if err != nil {
		return domain.RenderedPanel{}, err
	}
	c.cache.Set(signature, panel)
	return panel, nil
}
