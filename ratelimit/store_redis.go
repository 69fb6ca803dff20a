package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ai-rivu-backend/model"

	"github.com/go-redis/redis/v8"
)

const windowKeyPrefix = "ratelimit:window:"

// RedisWindowStore keeps windows in Redis, one JSON array per key with a TTL
// equal to the retention ceiling.
//
// Get and Set are separate round trips: the Controller's mutex makes the
// read-check-append sequence atomic within one process only.
type RedisWindowStore struct {
	client *redis.Client
}

// NewRedisWindowStore creates a store on an existing client
func NewRedisWindowStore(client *redis.Client) *RedisWindowStore {
	return &RedisWindowStore{client: client}
}

func (s *RedisWindowStore) Get(ctx context.Context, key model.AdmissionKey) ([]int64, error) {
	raw, err := s.client.Get(ctx, windowKeyPrefix+key.String()).Bytes()
	if err == redis.Nil {
		return []int64{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read window %s: %w", key, err)
	}

	var ts []int64
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, fmt.Errorf("failed to decode window %s: %w", key, err)
	}
	return ts, nil
}

func (s *RedisWindowStore) Set(ctx context.Context, key model.AdmissionKey, timestamps []int64) error {
	if len(timestamps) == 0 {
		return s.Delete(ctx, key)
	}
	raw, err := json.Marshal(timestamps)
	if err != nil {
		return fmt.Errorf("failed to encode window %s: %w", key, err)
	}
	if err := s.client.Set(ctx, windowKeyPrefix+key.String(), raw, RetentionCeiling).Err(); err != nil {
		return fmt.Errorf("failed to store window %s: %w", key, err)
	}
	return nil
}

func (s *RedisWindowStore) Delete(ctx context.Context, key model.AdmissionKey) error {
	if err := s.client.Del(ctx, windowKeyPrefix+key.String()).Err(); err != nil {
		return fmt.Errorf("failed to delete window %s: %w", key, err)
	}
	return nil
}

func (s *RedisWindowStore) Keys(ctx context.Context) ([]model.AdmissionKey, error) {
	var keys []model.AdmissionKey
	iter := s.client.Scan(ctx, 0, windowKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k, err := model.ParseAdmissionKey(strings.TrimPrefix(iter.Val(), windowKeyPrefix))
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan windows: %w", err)
	}
	return keys, nil
}
