package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const PlaceholderModel = "placeholder"

// PlaceholderRenderer draws a blank panel card locally. It is used when no image backend is configured.
type PlaceholderRenderer struct {
	store *ImageStore
	now   func() time.Time
}

func NewPlaceholderRenderer(store *ImageStore) *PlaceholderRenderer {
	return &PlaceholderRenderer{store: store, now: time.Now}
}

func (r *PlaceholderRenderer) Render(ctx context.Context, spec domain.PanelSpec, style domain.Style) (domain.RenderedPanel, error) {
	if err := ctx.Err(); err != nil {
		return domain.RenderedPanel{}, Classify(spec.PanelID, err)
	}

	data, err := drawPlaceholder(spec, style)
	if err != nil {
		return domain.RenderedPanel{}, Classify(spec.PanelID, err)
	}
	url, err := r.store.Save(spec.PanelID, data)
	if err != nil {
		return domain.RenderedPanel{}, Classify(spec.PanelID, err)
	}

	return domain.RenderedPanel{
		PanelID:        spec.PanelID,
		SceneIndex:     spec.SceneIndex,
		ImageReference: url,
		Prompt:         BuildPrompt(spec, style),
		Model:          PlaceholderModel,
		GeneratedAt:    r.now().UTC(),
	}, nil
}

func drawPlaceholder(spec domain.PanelSpec, style domain.Style) ([]byte, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, PanelWidth, PanelHeight))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	border := color.Gray{Y: 40}
	for x := 0; x < PanelWidth; x++ {
		for _, y := range []int{4, PanelHeight - 5} {
			canvas.Set(x, y, border)
		}
	}
	for y := 0; y < PanelHeight; y++ {
		for _, x := range []int{4, PanelWidth - 5} {
			canvas.Set(x, y, border)
		}
	}

	lines := []string{
		spec.PanelID,
		fmt.Sprintf("style: %s", style),
		fmt.Sprintf("mood: %s", spec.Mood),
	}
	if spec.Location != "" {
		lines = append(lines, "location: "+spec.Location)
	}
	for _, line := range spec.Dialogue {
		lines = append(lines, truncate(line, 64))
	}

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.Black,
		Face: basicfont.Face7x13,
	}
	y := 40
	for _, line := range lines {
		drawer.Dot = fixed.P(24, y)
		drawer.DrawString(line)
		y += 20
		if y > PanelHeight-24 {
			break
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}
