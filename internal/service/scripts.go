package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/policy"
	"github.com/iago/manga-creator-back/internal/repository"
	"github.com/iago/manga-creator-back/internal/script"
	"github.com/iago/manga-creator-back/internal/storyboard"
)

type ScriptsService struct {
	repo    repository.ScriptsRepository
	builder *storyboard.Builder
	limits  policy.Limits
	logger  *log.Logger
}

func NewScriptsService(
	repo repository.ScriptsRepository,
	builder *storyboard.Builder,
	limits policy.Limits,
	logger *log.Logger,
) *ScriptsService {
	return &ScriptsService{repo: repo, builder: builder, limits: limits, logger: logger}
}

// ParseOutput pairs the stored script with the spans the parser skipped.
type ParseOutput struct {
	Script  *domain.Script
	Skipped []script.SkippedSpan
}

func (s *ScriptsService) Parse(ctx context.Context, title, content, style string) (*ParseOutput, error) {
	parsedStyle, err := policy.CheckScript(s.limits, title, content, style)
	if err != nil {
		return nil, err
	}

	result := script.ParseScript(title, parsedStyle, content)
	now := time.Now().UTC()
	record := &domain.Script{
		ID:        uuid.NewString(),
		Title:     title,
		Style:     parsedStyle,
		Content:   content,
		Document:  result.Document,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateScript(ctx, record); err != nil {
		return nil, fmt.Errorf("store script: %w", err)
	}

	if s.logger != nil && len(result.Skipped) > 0 {
		s.logger.Printf("script parsed with skipped spans script_id=%s scenes=%d skipped=%d",
			record.ID, len(result.Document.Scenes), len(result.Skipped))
	}
	return &ParseOutput{Script: record, Skipped: result.Skipped}, nil
}

func (s *ScriptsService) Get(ctx context.Context, scriptID string) (*domain.Script, error) {
	return s.repo.GetScript(ctx, scriptID)
}

func (s *ScriptsService) List(ctx context.Context, filter domain.ScriptListFilter) ([]*domain.Script, int, error) {
	return s.repo.ListScripts(ctx, filter)
}

// Storyboard rebuilds the panel list for a stored script. Builds are deterministic.
func (s *ScriptsService) Storyboard(ctx context.Context, scriptID string) ([]domain.PanelSpec, error) {
	record, err := s.repo.GetScript(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(record.Document), nil
}
