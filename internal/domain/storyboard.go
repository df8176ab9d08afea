package domain

type Layout string

const (
	LayoutSplash   Layout = "splash"
	LayoutGridCell Layout = "grid-cell"
)

// PanelSpec is one storyboard entry handed to the renderer.
type PanelSpec struct {
	PanelID            string            `json:"panel_id"`
	SceneIndex         int               `json:"scene_index"`
	Page               int               `json:"page"`
	PagePosition       int               `json:"page_position"`
	Layout             Layout            `json:"layout"`
	Mood               string            `json:"mood"`
	Location           string            `json:"location,omitempty"`
	Time               string            `json:"time,omitempty"`
	Actions            []string          `json:"actions,omitempty"`
	Dialogue           []string          `json:"dialogue"`
	CharactersInvolved []string          `json:"characters"`
	Descriptions       map[string]string `json:"descriptions,omitempty"`
}

func ClonePanelSpecs(specs []PanelSpec) []PanelSpec {
	if specs == nil {
		return nil
	}
	clones := make([]PanelSpec, len(specs))
	for i, spec := range specs {
		clone := spec
		clone.Actions = append([]string(nil), spec.Actions...)
		clone.Dialogue = append([]string(nil), spec.Dialogue...)
		clone.CharactersInvolved = append([]string(nil), spec.CharactersInvolved...)
		if spec.Descriptions != nil {
			clone.Descriptions = make(map[string]string, len(spec.Descriptions))
			for name, description := range spec.Descriptions {
				clone.Descriptions[name] = description
			}
		}
		clones[i] = clone
	}
	return clones
}
