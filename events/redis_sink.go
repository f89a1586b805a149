package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes flushed batches to a Redis stream for external
// dashboards. It is advisory only: nothing in this module ever reads
// the stream back to reconstruct registry or queue state, so it does
// not introduce cross-restart persistence of requests.
//
// Built on top of redisclient.Client (redisclient/redis.go), which
// otherwise only exposes a Ping-only health check.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink wraps an existing *redis.Client. stream is the Redis
// stream key events are XADDed to.
func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream}
}

func (s *RedisSink) Write(ctx context.Context, batch []Event) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := s.client.Pipeline()
	for _, e := range batch {
		payload, err := json.Marshal(e.Fields)
		if err != nil {
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]any{
				"event_id":   string(e.ID),
				"created_at": e.CreatedAt.Format(time.RFC3339Nano),
				"fields":     string(payload),
			},
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSink) Close() error { return s.client.Close() }
