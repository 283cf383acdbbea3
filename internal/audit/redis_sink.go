package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes audit records to a Redis channel so that every pod's
// records reach the same downstream collector. Delivery is fire-and-forget;
// the collector owns durability.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a sink publishing to the given channel.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = "sentra:audit"
	}
	return &RedisSink{client: client, channel: channel}
}

// Publish serializes the record as JSON and publishes it.
func (s *RedisSink) Publish(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish audit record: %w", err)
	}
	return nil
}
