package repository

import (
	"context"
	"errors"

	"github.com/iago/manga-creator-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobsRepository abstracts generation job persistence.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// ListJobs returns jobs in creation order. No statuses means every job.
	ListJobs(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error)
}

// ScriptsRepository abstracts parsed script persistence.
type ScriptsRepository interface {
	CreateScript(ctx context.Context, script *domain.Script) error
	GetScript(ctx context.Context, scriptID string) (*domain.Script, error)
	ListScripts(ctx context.Context, filter domain.ScriptListFilter) ([]*domain.Script, int, error)
}

func normalizeFilter(filter domain.ScriptListFilter) domain.ScriptListFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	return filter
}

func statusStrings(statuses []domain.JobStatus) []string {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	return values
}
