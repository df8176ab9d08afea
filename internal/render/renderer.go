package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/iago/manga-creator-back/internal/domain"
)

var ErrUnavailable = errors.New("image backend unavailable")

// Renderer produces an image for a single panel. Implementations must honor ctx cancellation.
type Renderer interface {
	Render(ctx context.Context, spec domain.PanelSpec, style domain.Style) (domain.RenderedPanel, error)
}

type RenderError struct {
	PanelID string
	Kind    domain.ErrorKind
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render panel %s (%s): %v", e.PanelID, e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Classify wraps err as a RenderError, keeping an existing kind when err already carries one.
// The result is always a new value; err is never modified.
func Classify(panelID string, err error) *RenderError {
	if err == nil {
		return nil
	}
	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		classified := *renderErr
		if classified.PanelID == "" {
			classified.PanelID = panelID
		}
		return &classified
	}
	kind := domain.ErrorKindRender
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.ErrorKindTimeout
	case errors.Is(err, ErrUnavailable):
		kind = domain.ErrorKindUnavailable
	}
	return &RenderError{PanelID: panelID, Kind: kind, Err: err}
}
