package render

import (
	"strings"

	"github.com/iago/manga-creator-back/internal/domain"
)

type ModelProfile struct {
	Checkpoint string
	Steps      int
	CFGScale   float64
	Sampler    string
	Width      int
	Height     int
}

// ModelRouterConfig overrides the checkpoint used for a style. Empty entries keep the default.
type ModelRouterConfig struct {
	Checkpoints map[domain.Style]string
	Steps       int
	CFGScale    float64
	Sampler     string
}

type ModelRouter struct {
	checkpoints map[domain.Style]string
	base        ModelProfile
}

func defaultCheckpoints() map[domain.Style]string {
	return map[domain.Style]string{
		domain.StyleShounen: "anythingV5_PrtRE",
		domain.StyleShoujo:  "meinamix_meina-v11",
		domain.StyleSeinen:  "realisticVision_v60b1",
		domain.StyleComedy:  "toonyou_beta-6",
		domain.StyleHorror:  "deliberate_v2",
	}
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	checkpoints := defaultCheckpoints()
	for style, checkpoint := range config.Checkpoints {
		if strings.TrimSpace(checkpoint) != "" {
			checkpoints[style] = strings.TrimSpace(checkpoint)
		}
	}
	if config.Steps <= 0 {
		config.Steps = 20
	}
	if config.CFGScale <= 0 {
		config.CFGScale = 7
	}
	if strings.TrimSpace(config.Sampler) == "" {
		config.Sampler = "DPM++ 2M Karras"
	}

	return &ModelRouter{
		checkpoints: checkpoints,
		base: ModelProfile{
			Steps:    config.Steps,
			CFGScale: config.CFGScale,
			Sampler:  config.Sampler,
			Width:    PanelWidth,
			Height:   PanelHeight,
		},
	}
}

func (r *ModelRouter) Select(style domain.Style) ModelProfile {
	profile := r.base
	checkpoint, ok := r.checkpoints[style]
	if !ok {
		checkpoint = r.checkpoints[domain.DefaultStyle]
	}
	profile.Checkpoint = checkpoint
	return profile
}
