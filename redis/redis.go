package redis

import (
	"context"
	"fmt"
	"time"

	"ai-rivu-backend/config"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// NewClient connects to Redis and pings it. On a failed ping the client is
// closed and the error returned.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  time.Duration(cfg.OperationTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.OperationTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.OperationTimeout)*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	log.Info().Str("address", cfg.Address).Msg("Connected to Redis successfully")
	return rdb, nil
}
