package handlers

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// idempotencyEntry is reserved before a job is started. done closes once
// jobID is set or the reservation is dropped.
type idempotencyEntry struct {
	payloadHash uint64
	jobID       string
	done        chan struct{}
}

type idempotencyStore struct {
	entries *gocache.Cache
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{entries: gocache.New(ttl, ttl/4)}
}

// Reserve claims key for the caller. When the key is already taken the
// existing entry is returned with ok=false.
func (s *idempotencyStore) Reserve(key string, payloadHash uint64) (*idempotencyEntry, bool) {
	entry := &idempotencyEntry{payloadHash: payloadHash, done: make(chan struct{})}
	if err := s.entries.Add(key, entry, gocache.DefaultExpiration); err == nil {
		return entry, true
	}
	value, found := s.entries.Get(key)
	if !found {
		// Expired or released between Add and Get.
		return nil, false
	}
	return value.(*idempotencyEntry), false
}

func (s *idempotencyStore) Complete(entry *idempotencyEntry, jobID string) {
	entry.jobID = jobID
	close(entry.done)
}

func (s *idempotencyStore) Release(key string, entry *idempotencyEntry) {
	s.entries.Delete(key)
	close(entry.done)
}

// Wait blocks until the reservation holder finishes and returns its job id,
// empty when the holder failed.
func (e *idempotencyEntry) Wait(ctx context.Context) (string, error) {
	select {
	case <-e.done:
		return e.jobID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
