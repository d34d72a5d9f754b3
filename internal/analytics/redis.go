// Package analytics records per-destination push outcome counters in Redis.
// Purely best-effort: a sink failure never affects dispatch correctness.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: defaultRetention,
		clock:     time.Now,
	}
}

// WithRetention overrides the counter TTL.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	s.retention = d
	return s
}

// Record increments the daily outcome counter for the bark key.
// Errors are logged and swallowed.
func (s *RedisSink) Record(ctx context.Context, barkKey string, outcome string) {
	key := buildKey(barkKey, outcome, s.clock())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

func buildKey(barkKey, outcome string, t time.Time) string {
	return fmt.Sprintf("push:k:%s:%s:%s", barkKey, outcome, t.UTC().Format("20060102"))
}
