package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/queue"
	"github.com/iago/manga-creator-back/internal/repository"
)

// Advancer drives one job to a terminal state.
type Advancer interface {
	Advance(ctx context.Context, jobID string) (*domain.Job, error)
}

// Processor consumes queued jobs and advances them.
type Processor struct {
	consumer queue.Consumer
	jobs     Advancer
	logger   *log.Logger
}

func NewProcessor(consumer queue.Consumer, jobs Advancer, logger *log.Logger) *Processor {
	return &Processor{
		consumer: consumer,
		jobs:     jobs,
		logger:   logger,
	}
}

// Run starts consumers concurrent consume loops and returns once all of them stop.
// Jobs are independent, so each loop advances a different job at a time.
func (p *Processor) Run(ctx context.Context, consumers int) {
	if consumers < 1 {
		consumers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Start(ctx)
		}()
	}
	wg.Wait()
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logf("worker consume loop error: %v", err)

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	started := time.Now()
	job, err := p.jobs.Advance(ctx, message.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.logf("worker dropped unknown job job_id=%s", message.JobID)
			return nil
		}
		return fmt.Errorf("advance job %s: %w", message.JobID, err)
	}

	p.logf(
		"job processed job_id=%s script_id=%s status=%s panels=%d/%d attempt=%d elapsed=%s",
		job.ID,
		job.ScriptID,
		job.Status,
		job.CompletedPanels,
		job.TotalPanels,
		message.Attempt,
		time.Since(started).Round(time.Millisecond),
	)
	return nil
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
