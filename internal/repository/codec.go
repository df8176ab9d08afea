package repository

import (
	"encoding/json"
	"fmt"

	"github.com/iago/manga-creator-back/internal/domain"
)

// jobDocuments are the JSON columns shared by the SQL backends.
type jobDocuments struct {
	Storyboard []byte
	Rendered   []byte
	Result     []byte
}

func encodeJobDocuments(job *domain.Job) (jobDocuments, error) {
	var (
		docs jobDocuments
		err  error
	)
	if docs.Storyboard, err = json.Marshal(nonNilSpecs(job.Storyboard)); err != nil {
		return docs, fmt.Errorf("marshal storyboard: %w", err)
	}
	if docs.Rendered, err = json.Marshal(nonNilPanels(job.Rendered)); err != nil {
		return docs, fmt.Errorf("marshal rendered panels: %w", err)
	}
	if docs.Result, err = json.Marshal(nonNilPanels(job.ResultPanels)); err != nil {
		return docs, fmt.Errorf("marshal result panels: %w", err)
	}
	return docs, nil
}

func decodeJobDocuments(job *domain.Job, docs jobDocuments) error {
	if len(docs.Storyboard) > 0 {
		if err := json.Unmarshal(docs.Storyboard, &job.Storyboard); err != nil {
			return fmt.Errorf("decode storyboard: %w", err)
		}
	}
	if len(docs.Rendered) > 0 {
		if err := json.Unmarshal(docs.Rendered, &job.Rendered); err != nil {
			return fmt.Errorf("decode rendered panels: %w", err)
		}
	}
	if len(docs.Result) > 0 {
		if err := json.Unmarshal(docs.Result, &job.ResultPanels); err != nil {
			return fmt.Errorf("decode result panels: %w", err)
		}
	}
	if len(job.ResultPanels) == 0 {
		job.ResultPanels = nil
	}
	return nil
}

func nonNilSpecs(specs []domain.PanelSpec) []domain.PanelSpec {
	if specs == nil {
		return []domain.PanelSpec{}
	}
	return specs
}

func nonNilPanels(panels []domain.RenderedPanel) []domain.RenderedPanel {
	if panels == nil {
		return []domain.RenderedPanel{}
	}
	return panels
}

func nonNilOptions(options json.RawMessage) json.RawMessage {
	if len(options) == 0 {
		return json.RawMessage("{}")
	}
	return options
}
