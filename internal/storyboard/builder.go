package storyboard

import (
	"fmt"

	"github.com/iago/manga-creator-back/internal/domain"
)

// PanelsPerPage must match the page grid used by clients.
const PanelsPerPage = 4

type Options struct {
	// SplitDialogue emits one panel per dialogue line for scenes with more than one line.
	SplitDialogue bool
	Moods         MoodTable
}

type Builder struct {
	splitDialogue bool
	moods         MoodTable
}

func NewBuilder(options Options) *Builder {
	if len(options.Moods.Rules) == 0 && options.Moods.DefaultLabel == "" {
		options.Moods = DefaultMoodTable()
	}
	return &Builder{
		splitDialogue: options.SplitDialogue,
		moods:         options.Moods,
	}
}

// PanelID is stable for a given scene and sub-panel position.
func PanelID(sceneIndex, subIndex int) string {
	return fmt.Sprintf("scene-%03d-panel-%02d", sceneIndex, subIndex)
}

// Build turns a parsed document into ordered panel specs.
func (b *Builder) Build(doc domain.ScriptDocument) []domain.PanelSpec {
	panels := make([]domain.PanelSpec, 0, len(doc.Scenes))
	for _, scene := range doc.Scenes {
		mood := b.moods.Classify(scene)

		groups := [][]domain.DialogueLine{scene.DialogueLines}
		if b.splitDialogue && len(scene.DialogueLines) > 1 {
			groups = make([][]domain.DialogueLine, 0, len(scene.DialogueLines))
			for _, line := range scene.DialogueLines {
				groups = append(groups, []domain.DialogueLine{line})
			}
		}

		for sub, lines := range groups {
			involved := charactersInvolved(scene, lines, len(groups) > 1)
			panels = append(panels, domain.PanelSpec{
				PanelID:            PanelID(scene.Index, sub),
				SceneIndex:         scene.Index,
				Mood:               mood,
				Location:           scene.Location,
				Time:               scene.Time,
				Actions:            append([]string{}, scene.Actions...),
				Dialogue:           formatDialogue(lines),
				CharactersInvolved: involved,
				Descriptions:       descriptionsFor(doc, involved),
			})
		}
	}

	for i := range panels {
		page, position := PagePosition(i)
		panels[i].Page = page
		panels[i].PagePosition = position
		panels[i].Layout = LayoutFor(i)
	}
	return panels
}

// PagePosition returns the 0-based page and slot of the panel at index.
func PagePosition(index int) (int, int) {
	return index / PanelsPerPage, index % PanelsPerPage
}

func LayoutFor(index int) domain.Layout {
	if index%PanelsPerPage == 0 {
		return domain.LayoutSplash
	}
	return domain.LayoutGridCell
}

type Page struct {
	Number int                `json:"page"`
	Panels []domain.PanelSpec `json:"panels"`
}

func Paginate(panels []domain.PanelSpec) []Page {
	pages := make([]Page, 0, (len(panels)+PanelsPerPage-1)/PanelsPerPage)
	for start := 0; start < len(panels); start += PanelsPerPage {
		end := start + PanelsPerPage
		if end > len(panels) {
			end = len(panels)
		}
		pages = append(pages, Page{
			Number: start / PanelsPerPage,
			Panels: panels[start:end],
		})
	}
	return pages
}

func formatDialogue(lines []domain.DialogueLine) []string {
	dialogue := make([]string, 0, len(lines))
	for _, line := range lines {
		dialogue = append(dialogue, line.Speaker+": "+line.Text)
	}
	return dialogue
}

func descriptionsFor(doc domain.ScriptDocument, names []string) map[string]string {
	var descriptions map[string]string
	for _, name := range names {
		description, ok := doc.CharacterDescriptions[name]
		if !ok {
			continue
		}
		if descriptions == nil {
			descriptions = make(map[string]string)
		}
		descriptions[name] = description
	}
	return descriptions
}

// charactersInvolved narrows split panels to their speaker, falling back to the scene cast.
func charactersInvolved(scene domain.Scene, lines []domain.DialogueLine, split bool) []string {
	if !split {
		return append([]string{}, scene.CharactersPresent...)
	}
	involved := make([]string, 0, len(lines))
	for _, line := range lines {
		involved = append(involved, line.Speaker)
	}
	return involved
}
