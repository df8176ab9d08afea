package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iago/manga-creator-back/internal/domain"
)

type MemoryScriptsRepository struct {
	mu      sync.RWMutex
	scripts map[string]*domain.Script
}

func NewMemoryScriptsRepository() *MemoryScriptsRepository {
	return &MemoryScriptsRepository{
		scripts: make(map[string]*domain.Script),
	}
}

func (r *MemoryScriptsRepository) CreateScript(_ context.Context, script *domain.Script) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.scripts[script.ID] = script.Clone()
	return nil
}

func (r *MemoryScriptsRepository) GetScript(_ context.Context, scriptID string) (*domain.Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	script, ok := r.scripts[scriptID]
	if !ok {
		return nil, ErrNotFound
	}
	return script.Clone(), nil
}

func (r *MemoryScriptsRepository) ListScripts(
	_ context.Context,
	filter domain.ScriptListFilter,
) ([]*domain.Script, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter = normalizeFilter(filter)

	items := make([]*domain.Script, 0, len(r.scripts))
	for _, script := range r.scripts {
		items = append(items, script)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []*domain.Script{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	page := make([]*domain.Script, 0, end-start)
	for _, script := range items[start:end] {
		page = append(page, script.Clone())
	}
	return page, total, nil
}
