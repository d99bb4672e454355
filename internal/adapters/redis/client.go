// Package redis mirrors session presence and stores custom permission profiles in Redis.
package redis

import (
	"context"
	"fmt"

	"github.com/dkeye/RemoteDesk/internal/config"
	"github.com/redis/go-redis/v9"
)

// Connect opens a client and verifies the server answers.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
