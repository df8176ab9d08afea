package render

import (
	"strings"

	"github.com/iago/manga-creator-back/internal/domain"
)

var moodModifiers = map[string]string{
	"intense":    "dramatic lighting, dynamic pose, action lines",
	"happy":      "bright lighting, cheerful expression, positive atmosphere",
	"sad":        "soft lighting, melancholic mood, emotional expression",
	"romantic":   "soft lighting, gentle expression, romantic atmosphere",
	"determined": "strong pose, confident expression, focused eyes",
}

var qualityTags = []string{
	"high quality",
	"detailed",
	"black and white manga art",
	"professional illustration",
}

const negativePrompt = "blurry, low quality, bad anatomy, extra limbs, malformed, text, watermark, signature, multiple panels"

// BuildPrompt renders a panel spec into a text-to-image prompt.
func BuildPrompt(spec domain.PanelSpec, style domain.Style) string {
	parts := []string{"manga panel, " + string(style) + " style"}

	for _, name := range spec.CharactersInvolved {
		if description := strings.TrimSpace(spec.Descriptions[name]); description != "" {
			parts = append(parts, "character: "+description)
		}
	}
	if spec.Location != "" {
		location := spec.Location
		if spec.Time != "" {
			location += " at " + strings.ToLower(spec.Time)
		}
		parts = append(parts, "location: "+location)
	}
	if len(spec.Actions) > 0 {
		parts = append(parts, "action: "+strings.Join(spec.Actions, ", "))
	}
	if modifier, ok := moodModifiers[spec.Mood]; ok {
		parts = append(parts, modifier)
	}
	parts = append(parts, qualityTags...)
	return strings.Join(parts, ", ")
}

func NegativePrompt() string {
	return negativePrompt
}
