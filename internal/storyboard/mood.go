package storyboard

import (
	"strings"

	"github.com/iago/manga-creator-back/internal/domain"
)

const (
	MoodIntense    = "intense"
	MoodHappy      = "happy"
	MoodSad        = "sad"
	MoodRomantic   = "romantic"
	MoodDetermined = "determined"
	MoodNeutral    = "neutral"
)

// MoodRule maps a keyword set to a label. Keywords are matched as lowercase substrings.
type MoodRule struct {
	Label    string   `toml:"label" json:"label"`
	Keywords []string `toml:"keywords" json:"keywords"`
}

// MoodTable is ordered: the first matching rule wins.
type MoodTable struct {
	Rules           []MoodRule `toml:"rules" json:"rules"`
	FirstSceneLabel string     `toml:"first_scene_label" json:"first_scene_label"`
	DefaultLabel    string     `toml:"default_label" json:"default_label"`
}

func DefaultMoodTable() MoodTable {
	return MoodTable{
		Rules: []MoodRule{
			{Label: MoodIntense, Keywords: []string{"battle", "fight", "attack", "danger", "intense", "sword", "punch", "kick"}},
			{Label: MoodHappy, Keywords: []string{"happy", "smile", "laugh", "joy", "excited"}},
			{Label: MoodSad, Keywords: []string{"sad", "cry", "tears", "worried", "afraid"}},
			{Label: MoodRomantic, Keywords: []string{"love", "romantic", "sweet", "gentle", "tender"}},
			{Label: MoodDetermined, Keywords: []string{"determined", "strong", "must"}},
		},
		FirstSceneLabel: MoodDetermined,
		DefaultLabel:    MoodNeutral,
	}
}

// Classify returns the mood for a scene. It depends only on scene text and index.
func (t MoodTable) Classify(scene domain.Scene) string {
	text := sceneText(scene)
	for _, rule := range t.Rules {
		for _, keyword := range rule.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword != "" && strings.Contains(text, keyword) {
				return rule.Label
			}
		}
	}
	if scene.Index == 0 && t.FirstSceneLabel != "" {
		return t.FirstSceneLabel
	}
	if t.DefaultLabel == "" {
		return MoodNeutral
	}
	return t.DefaultLabel
}

func sceneText(scene domain.Scene) string {
	parts := make([]string, 0, len(scene.Actions)+len(scene.DialogueLines))
	parts = append(parts, scene.Actions...)
	for _, line := range scene.DialogueLines {
		parts = append(parts, line.Text)
	}
	return strings.ToLower(strings.Join(parts, "\n"))
}
