package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iago/manga-creator-back/internal/domain"
)

// MemoryJobsRepository stores jobs in memory for local development.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobsRepository) ListJobs(_ context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[domain.JobStatus]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	items := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if len(wanted) > 0 {
			if _, ok := wanted[job.Status]; !ok {
				continue
			}
		}
		items = append(items, job.Clone())
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}
