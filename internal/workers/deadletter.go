package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sarathsp06/courier/internal/webhooks"
)

// DefaultDeadLetterChannel is the Redis channel dead letters are published to.
const DefaultDeadLetterChannel = "courier:deliveries:dead-letter"

// DeadLetterSink is told about every job that exhausted its retries or was
// skipped for good.
type DeadLetterSink interface {
	DeadLettered(ctx context.Context, job *webhooks.DeliveryJob) error
}

// DeadLetterFunc adapts a function to DeadLetterSink.
type DeadLetterFunc func(ctx context.Context, job *webhooks.DeliveryJob) error

func (f DeadLetterFunc) DeadLettered(ctx context.Context, job *webhooks.DeliveryJob) error {
	return f(ctx, job)
}

// RedisDeadLetterSink publishes dead letters as JSON so alerting can
// subscribe without polling the store.
type RedisDeadLetterSink struct {
	rdb     *redis.Client
	channel string
}

func NewRedisDeadLetterSink(rdb *redis.Client, channel string) *RedisDeadLetterSink {
	if channel == "" {
		channel = DefaultDeadLetterChannel
	}
	return &RedisDeadLetterSink{rdb: rdb, channel: channel}
}

func (s *RedisDeadLetterSink) DeadLettered(ctx context.Context, job *webhooks.DeliveryJob) error {
	msg, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}
	return nil
}
