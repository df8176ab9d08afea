package render

import (
	"context"

	"github.com/iago/manga-creator-back/internal/domain"
	"golang.org/x/time/rate"
)

// RateLimited paces calls into the wrapped renderer with a shared token bucket.
type RateLimited struct {
	next    Renderer
	limiter *rate.Limiter
}

func NewRateLimited(next Renderer, perSecond float64, burst int) *RateLimited {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) Render(ctx context.Context, spec domain.PanelSpec, style domain.Style) (domain.RenderedPanel, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline cannot be met, before ctx itself expires.
		if ctx.Err() == nil {
			err = context.DeadlineExceeded
		}
		return domain.RenderedPanel{}, Classify(spec.PanelID, err)
	}
	return r.next.Render(ctx, spec, style)
}
