package queue

import (
	"context"

	"github.com/iago/manga-creator-back/internal/domain"
)

// Producer schedules a generation job for a worker.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer delivers scheduled jobs to handler. A handler error means the
// delivery should be retried; the job's own failure is recorded on the job.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}
