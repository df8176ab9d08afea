package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
	// ClaimIdle is how long a delivery may stay unacknowledged before another consumer takes it over.
	ClaimIdle time.Duration
	Logger    *log.Logger
}

// StreamsQueue implements Producer and Consumer on Redis Streams.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	claimIdle   time.Duration
	logger      *log.Logger
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "manga_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "manga_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 15 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		claimIdle:   cfg.ClaimIdle,
		logger:      cfg.Logger,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	values, err := encodeStreamValues(message)
	if err != nil {
		return err
	}
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Result(); err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Deliveries abandoned by a crashed consumer come back first.
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Start:    "0-0",
			Count:    10,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xautoclaim: %w", err)
		}
		for _, item := range claimed {
			q.handle(ctx, item, handler)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handle(ctx, item, handler)
			}
		}
	}
}

func (q *StreamsQueue) handle(
	ctx context.Context,
	item redis.XMessage,
	handler func(context.Context, domain.QueueMessage) error,
) {
	message, parseErr := decodeStreamValues(item.Values)
	if parseErr != nil {
		q.deadLetter(ctx, message, item, parseErr.Error())
		return
	}

	handleErr := handler(ctx, message)
	if ctx.Err() != nil {
		// Left pending so the next consumer can claim it.
		return
	}
	if handleErr == nil {
		q.ack(ctx, item.ID)
		return
	}

	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		q.deadLetter(ctx, message, item, handleErr.Error())
		return
	}
	if err := q.Enqueue(ctx, message); err != nil {
		q.deadLetter(ctx, message, item, fmt.Sprintf("requeue failed: %v", err))
		return
	}
	q.ack(ctx, item.ID)
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ack(ctx context.Context, streamID string) {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		q.logf("stream xack failed id=%s err=%v", streamID, err)
		return
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		q.logf("stream xdel failed id=%s err=%v", streamID, err)
	}
}

func (q *StreamsQueue) deadLetter(ctx context.Context, message domain.QueueMessage, item redis.XMessage, reason string) {
	values, err := encodeStreamValues(message)
	if err != nil {
		values = map[string]any{}
	}
	values["stream_id"] = item.ID
	values["error"] = reason
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		q.logf("stream dlq write failed job_id=%s err=%v", message.JobID, err)
		return
	}
	q.logf("stream moved job to DLQ job_id=%s reason=%s", message.JobID, reason)
	q.ack(ctx, item.ID)
}

func (q *StreamsQueue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}

// Stream entries carry the job id in clear for XRANGE inspection plus the full JSON body.
func encodeStreamValues(message domain.QueueMessage) (map[string]any, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal queue message: %w", err)
	}
	return map[string]any{
		"job_id": message.JobID,
		"body":   string(body),
	}, nil
}

func decodeStreamValues(values map[string]any) (domain.QueueMessage, error) {
	raw, ok := values["body"]
	if !ok {
		return domain.QueueMessage{}, errors.New("missing field body")
	}
	var body []byte
	switch casted := raw.(type) {
	case string:
		body = []byte(casted)
	case []byte:
		body = casted
	default:
		return domain.QueueMessage{}, fmt.Errorf("unexpected body type %T", raw)
	}

	var message domain.QueueMessage
	if err := json.Unmarshal(body, &message); err != nil {
		return domain.QueueMessage{}, fmt.Errorf("decode queue message: %w", err)
	}
	if strings.TrimSpace(message.JobID) == "" {
		return message, errors.New("queue message without job_id")
	}
	return message, nil
}
