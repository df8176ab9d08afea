package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
)

func TestLocalQueueDeliversOncePerJob(t *testing.T) {
	q := NewLocalQueue(8, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "job-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "job-1"}); err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected duplicate job to be coalesced, got %d queued", q.Len())
	}

	var (
		mu        sync.Mutex
		delivered []string
	)
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, message domain.QueueMessage) error {
			mu.Lock()
			delivered = append(delivered, message.JobID)
			mu.Unlock()
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "job-1" {
		t.Fatalf("unexpected deliveries %v", delivered)
	}
}

func TestLocalQueueRetriesThenDeadLetters(t *testing.T) {
	q := NewLocalQueue(8, 2, nil)
	q.retryDelay = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan int, 4)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, message domain.QueueMessage) error {
			attempts <- message.Attempt
			return errors.New("repository offline")
		})
	}()

	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "job-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for want := 0; want < 2; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("expected attempt %d, got %d", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for attempt %d", want)
		}
	}

	deadline := time.Now().Add(time.Second)
	for len(q.DeadLetters()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if letters := q.DeadLetters(); len(letters) != 1 || letters[0].Attempt != 2 {
		t.Fatalf("expected job in DLQ after 2 attempts, got %+v", letters)
	}

	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "job-1"}); err != nil {
		t.Fatalf("expected dead-lettered job to be enqueueable again, got %v", err)
	}
}

func TestLocalQueueFull(t *testing.T) {
	q := NewLocalQueue(1, 1, nil)
	ctx := context.Background()
	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if err := q.Enqueue(ctx, domain.QueueMessage{JobID: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected rejected job to be retryable, got %v", err)
	}
}
