// Package redis publishes per-query metrics rows to a Redis stream for
// downstream consumers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/studyhall-ai/studyhall/metrics"
)

// DefaultStream is the stream key metrics rows land on.
const DefaultStream = "studyhall:query_metrics"

// Sink implements metrics.Sink by appending rows to a capped Redis stream.
type Sink struct {
	client *goredis.Client
	stream string
	maxLen int64
}

// Option customises the sink.
type Option func(*Sink)

// WithStream overrides the stream key.
func WithStream(key string) Option {
	return func(s *Sink) {
		if key != "" {
			s.stream = key
		}
	}
}

// WithMaxLen caps the stream length (approximate trimming).
func WithMaxLen(n int64) Option {
	return func(s *Sink) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

// New builds a sink over an existing Redis client.
func New(client *goredis.Client, opts ...Option) *Sink {
	s := &Sink{
		client: client,
		stream: DefaultStream,
		maxLen: 100_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write implements metrics.Sink.
func (s *Sink) Write(ctx context.Context, row metrics.QueryMetrics) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode metrics row: %w", err)
	}
	err = s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"query_id": row.QueryID,
			"strategy": string(row.Strategy),
			"row":      body,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd metrics row: %w", err)
	}
	return nil
}

// Health pings the Redis server.
func (s *Sink) Health(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}
