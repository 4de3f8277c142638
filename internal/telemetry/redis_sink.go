package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"portfoliochat/internal/redis"
)

const (
	RedisChannel    = "chat:telemetry"
	redisUsageTTL   = 30 * 24 * time.Hour
	redisUsageKeyFn = "chat:usage:%s"
)

// RedisSink publishes each record and keeps per-day counters.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.Publish(ctx, RedisChannel, payload); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	if err := s.client.IncrementCounters(ctx, UsageKey(rec.At), usageDeltas(rec), redisUsageTTL); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// UsageKey is the hash holding counters for the UTC day of t.
func UsageKey(t time.Time) string {
	return fmt.Sprintf(redisUsageKeyFn, t.UTC().Format("2006-01-02"))
}

func usageDeltas(rec Record) map[string]int64 {
	deltas := map[string]int64{
		"requests":                       1,
		"requests_" + string(rec.Status): 1,
		"text_bytes":                     int64(rec.TextLength),
	}
	if rec.Usage != nil {
		deltas["input_tokens"] = int64(rec.Usage.InputTokens)
		deltas["output_tokens"] = int64(rec.Usage.OutputTokens)
		deltas["total_tokens"] = int64(rec.Usage.TotalTokens)
	}
	return deltas
}
