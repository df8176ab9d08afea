package domain

import (
	"strings"
	"time"
)

type Style string

const (
	StyleShounen Style = "shounen"
	StyleShoujo  Style = "shoujo"
	StyleSeinen  Style = "seinen"
	StyleComedy  Style = "comedy"
	StyleHorror  Style = "horror"
)

const DefaultStyle = StyleShounen

var styles = []Style{StyleShounen, StyleShoujo, StyleSeinen, StyleComedy, StyleHorror}

// ParseStyle normalizes a style name. Empty input maps to DefaultStyle.
func ParseStyle(value string) (Style, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return DefaultStyle, true
	}
	for _, style := range styles {
		if string(style) == normalized {
			return style, true
		}
	}
	return "", false
}

// DialogueLine keeps a back-reference to its scene by index.
type DialogueLine struct {
	Speaker    string `json:"speaker"`
	Text       string `json:"text"`
	SceneIndex int    `json:"scene_index"`
}

type Scene struct {
	Index             int            `json:"index"`
	Location          string         `json:"location"`
	Time              string         `json:"time"`
	CharactersPresent []string       `json:"characters"`
	Actions           []string       `json:"actions"`
	DialogueLines     []DialogueLine `json:"dialogue"`
}

// ScriptDocument is the structured form of a tagged script.
type ScriptDocument struct {
	Title                 string            `json:"title"`
	Style                 Style             `json:"style"`
	RawContent            string            `json:"-"`
	Scenes                []Scene           `json:"scenes"`
	CharacterList         []string          `json:"character_list"`
	CharacterDescriptions map[string]string `json:"character_descriptions,omitempty"`
}

// Script is the persisted record of a parsed script.
type Script struct {
	ID        string
	Title     string
	Style     Style
	Content   string
	Document  ScriptDocument
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ScriptListFilter struct {
	Page     int
	PageSize int
}

// Clone returns a deep copy of the script and its parsed document.
func (s *Script) Clone() *Script {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Document = s.Document.Clone()
	return &clone
}

func (d ScriptDocument) Clone() ScriptDocument {
	clone := d
	clone.CharacterList = append([]string{}, d.CharacterList...)
	clone.Scenes = make([]Scene, len(d.Scenes))
	for i, scene := range d.Scenes {
		copied := scene
		copied.CharactersPresent = append([]string{}, scene.CharactersPresent...)
		copied.Actions = append([]string{}, scene.Actions...)
		copied.DialogueLines = append([]DialogueLine{}, scene.DialogueLines...)
		clone.Scenes[i] = copied
	}
	if d.CharacterDescriptions != nil {
		clone.CharacterDescriptions = make(map[string]string, len(d.CharacterDescriptions))
		for name, description := range d.CharacterDescriptions {
			clone.CharacterDescriptions[name] = description
		}
	}
	return clone
}
