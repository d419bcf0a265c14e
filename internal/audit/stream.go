// Package audit mirrors transaction lifecycle events to a Redis stream
// so external consumers can tail the saga without touching Postgres.
package audit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"fulfillment/internal/saga"
)

// StreamSink appends audit events to a Redis stream and keeps the
// latest state per transaction in a hash.
type StreamSink struct {
	client    redis.Cmdable
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// NewStreamSink constructs a Redis-backed audit sink. maxLen caps the
// stream approximately; zero means unbounded.
func NewStreamSink(client redis.Cmdable, stream string, ttl time.Duration, maxLen int64) *StreamSink {
	if stream == "" {
		stream = "transaction_events"
	}
	return &StreamSink{
		client:    client,
		stream:    stream,
		keyPrefix: "txn:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// Publish appends the event to the stream and updates the per-transaction
// hash in one pipeline round trip.
func (s *StreamSink) Publish(ctx context.Context, event saga.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := s.keyPrefix + event.TransactionID
	at := event.At.UTC().Format(time.RFC3339Nano)

	fields := map[string]any{
		"type":           event.Type,
		"transaction_id": event.TransactionID,
		"order_id":       event.OrderID,
		"detail":         event.Detail,
		"at":             at,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"last_event": event.Type,
		"order_id":   event.OrderID,
		"at":         at,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: fields,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}
