package ratelimit

import (
	"context"
	"testing"
	"time"

	"ai-rivu-backend/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})

	return client, s
}

func TestRedisWindowStore_GetSetDelete(t *testing.T) {
	client, s := setupTestRedis(t)
	defer s.Close()
	defer client.Close()

	store := NewRedisWindowStore(client)
	ctx := context.Background()
	key := model.AdmissionKey{Identity: "teacher@example.com", Limiter: LimiterGenerate}

	ts, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get on missing key failed: %v", err)
	}
	if len(ts) != 0 {
		t.Errorf("expected empty window, got %v", ts)
	}

	if err := store.Set(ctx, key, []int64{1, 2, 3}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	ts, _ = store.Get(ctx, key)
	if len(ts) != 3 || ts[2] != 3 {
		t.Errorf("unexpected window: %v", ts)
	}

	ttl := s.TTL(windowKeyPrefix + key.String())
	if ttl != RetentionCeiling {
		t.Errorf("TTL = %v, want %v", ttl, RetentionCeiling)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("unexpected keys: %v", keys)
	}

	if err := store.Set(ctx, key, nil); err != nil {
		t.Fatalf("Set(nil) failed: %v", err)
	}
	if s.Exists(windowKeyPrefix + key.String()) {
		t.Error("empty Set should delete the key")
	}
}

func TestRedisWindowStore_WithController(t *testing.T) {
	client, s := setupTestRedis(t)
	defer s.Close()
	defer client.Close()

	clk := newFakeClock()
	c, err := NewController(NewRedisWindowStore(client), DefaultLimits(), WithClock(clk.Now))
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if d, _ := c.Admit(ctx, "u1", LimiterLogin); !d.Allowed {
			t.Fatalf("login %d should be allowed", i+1)
		}
	}
	if d, _ := c.Admit(ctx, "u1", LimiterLogin); d.Allowed {
		t.Error("9th login should be denied")
	}

	clk.Advance(15 * time.Minute)
	if d, _ := c.Admit(ctx, "u1", LimiterLogin); !d.Allowed {
		t.Error("login should be allowed after the window")
	}
}

func TestRedisWindowStore_UnavailableFailsOpen(t *testing.T) {
	client, s := setupTestRedis(t)
	defer client.Close()
	s.Close()

	c, err := NewController(NewRedisWindowStore(client), DefaultLimits())
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}

	d, err := c.Admit(context.Background(), "u1", LimiterGenerate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed || d.Degraded == nil {
		t.Errorf("expected degraded admission, got %+v", d)
	}
}
