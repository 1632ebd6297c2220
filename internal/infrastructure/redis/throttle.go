package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-subscription-core/internal/config"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "otp:throttle:"

// NewClient connects to redis and verifies the connection.
func NewClient(ctx context.Context, cfg *config.Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Throttle is a fixed-window request counter.
type Throttle struct {
	client *goredis.Client
	limit  int64
	window time.Duration
}

func NewThrottle(client *goredis.Client, limit int, window time.Duration) *Throttle {
	return &Throttle{client: client, limit: int64(limit), window: window}
}

// Allow counts one request for key and reports whether it is within the limit.
// The window starts at the first request.
func (t *Throttle) Allow(ctx context.Context, key string) (bool, error) {
	k := keyPrefix + key
	n, err := t.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("throttle incr: %w", err)
	}
	if n == 1 {
		if err := t.client.Expire(ctx, k, t.window).Err(); err != nil {
			return false, fmt.Errorf("throttle expire: %w", err)
		}
	}
	return n <= t.limit, nil
}
