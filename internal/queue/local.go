package queue

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
)

var ErrQueueFull = errors.New("local queue is full")

// LocalQueue is the in-process queue used when Redis is not configured.
// A job id is held at most once until its delivery finishes.
type LocalQueue struct {
	ch          chan domain.QueueMessage
	maxAttempts int
	retryDelay  time.Duration
	logger      *log.Logger

	mu     sync.Mutex
	queued map[string]struct{}
	dlq    []domain.QueueMessage
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalQueue{
		ch:          make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
		logger:      logger,
		queued:      make(map[string]struct{}),
		dlq:         make([]domain.QueueMessage, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	q.mu.Lock()
	if _, exists := q.queued[message.JobID]; exists {
		q.mu.Unlock()
		return nil
	}
	q.queued[message.JobID] = struct{}{}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.forget(message.JobID)
		return ctx.Err()
	case q.ch <- message:
		return nil
	default:
		q.forget(message.JobID)
		return ErrQueueFull
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil || ctx.Err() != nil {
				q.forget(message.JobID)
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.mu.Lock()
				q.dlq = append(q.dlq, message)
				delete(q.queued, message.JobID)
				q.mu.Unlock()
				if q.logger != nil {
					q.logger.Printf("local queue moved job to DLQ job_id=%s attempts=%d err=%v", message.JobID, message.Attempt, err)
				}
				continue
			}

			delay := time.Duration(message.Attempt) * q.retryDelay
			go func(retry domain.QueueMessage) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					q.forget(retry.JobID)
				case <-timer.C:
					select {
					case q.ch <- retry:
					case <-ctx.Done():
						q.forget(retry.JobID)
					}
				}
			}(message)
		}
	}
}

// Len reports messages waiting for delivery.
func (q *LocalQueue) Len() int {
	return len(q.ch)
}

func (q *LocalQueue) DeadLetters() []domain.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.QueueMessage(nil), q.dlq...)
}

func (q *LocalQueue) forget(jobID string) {
	q.mu.Lock()
	delete(q.queued, jobID)
	q.mu.Unlock()
}
