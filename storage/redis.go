package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ai-rivu-backend/model"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// Redis keys of the mirror layout
const (
	ActivityLogKey   = "activity:log"
	StatisticsKey    = "user_stats"
	WindowsKey       = "ratelimit:windows"
	identityLogLimit = 1000
	identityLogTTL   = 90 * 24 * time.Hour
)

// IdentityActivityKey is the per-identity activity list, most recent first
func IdentityActivityKey(identity string) string {
	return fmt.Sprintf("activity:%s", identity)
}

// RedisBackend mirrors the documents into Redis: one list row per event,
// one hash field per identity, one hash field per window.
type RedisBackend struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisBackend creates a backend on an existing client
func NewRedisBackend(client *redis.Client, timeout time.Duration) *RedisBackend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisBackend{client: client, timeout: timeout}
}

func (b *RedisBackend) Name() string { return "redis" }

// Ping checks connectivity
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Load(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	snap := &Snapshot{Windows: make(map[string][]int64)}

	rows, err := b.client.LRange(ctx, ActivityLogKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read %s: %w", ActivityLogKey, err)
	}
	for _, row := range rows {
		var e model.ActivityEvent
		if err := json.Unmarshal([]byte(row), &e); err != nil {
			log.Warn().Err(err).Msg("Skipping unreadable activity row")
			continue
		}
		snap.Events = append(snap.Events, e)
	}

	fields, err := b.client.HGetAll(ctx, StatisticsKey).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read %s: %w", StatisticsKey, err)
	}
	if len(fields) > 0 {
		snap.Statistics = make(map[string]*model.UserStatistics, len(fields))
		for identity, raw := range fields {
			var s model.UserStatistics
			if err := json.Unmarshal([]byte(raw), &s); err != nil {
				log.Warn().Err(err).Str("identity", identity).Msg("Skipping unreadable statistics row")
				continue
			}
			snap.Statistics[identity] = &s
		}
	}

	windows, err := b.client.HGetAll(ctx, WindowsKey).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read %s: %w", WindowsKey, err)
	}
	for key, raw := range windows {
		var ts []int64
		if err := json.Unmarshal([]byte(raw), &ts); err != nil {
			continue
		}
		snap.Windows[key] = ts
	}

	return snap, nil
}

func (b *RedisBackend) SaveWindows(ctx context.Context, windows map[string][]int64) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	values := make(map[string]interface{}, len(windows))
	for key, ts := range windows {
		raw, err := json.Marshal(ts)
		if err != nil {
			return fmt.Errorf("failed to encode window %s: %w", key, err)
		}
		values[key] = raw
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, WindowsKey)
		if len(values) > 0 {
			pipe.HSet(ctx, WindowsKey, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store windows: %w", err)
	}
	return nil
}

func (b *RedisBackend) AppendEvents(ctx context.Context, events []model.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		touched := make(map[string]struct{})
		for _, e := range events {
			raw, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to encode activity %s: %w", e.ID, err)
			}
			pipe.RPush(ctx, ActivityLogKey, raw)

			key := IdentityActivityKey(e.Identity)
			pipe.LPush(ctx, key, raw)
			touched[key] = struct{}{}
		}
		for key := range touched {
			pipe.LTrim(ctx, key, 0, identityLogLimit-1)
			pipe.Expire(ctx, key, identityLogTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store activity log: %w", err)
	}
	return nil
}

func (b *RedisBackend) SaveStatistics(ctx context.Context, stats map[string]*model.UserStatistics) error {
	if len(stats) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	values := make(map[string]interface{}, len(stats))
	for identity, s := range stats {
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to encode statistics for %s: %w", identity, err)
		}
		values[identity] = raw
	}
	if err := b.client.HSet(ctx, StatisticsKey, values).Err(); err != nil {
		return fmt.Errorf("failed to store statistics: %w", err)
	}
	return nil
}

// Close leaves the shared client open; its owner closes it
func (b *RedisBackend) Close() error {
	return nil
}
