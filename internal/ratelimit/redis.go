package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window request counter shared across instances.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisLimiter allows limit requests per key in each window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "chat:ratelimit:",
	}
}

// Allow counts one request against key and reports whether it is within the limit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}

	if needsExpire(incr.Val(), ttl.Val()) {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire %s: %w", key, err)
		}
	}
	return incr.Val() <= l.limit, nil
}

// needsExpire reports whether the window key must be given its expiry. A count
// of 1 opens a new window; a negative ttl means an earlier Expire was lost.
func needsExpire(count int64, ttl time.Duration) bool {
	return count == 1 || ttl < 0
}

// Limit returns the configured requests per window.
func (l *RedisLimiter) Limit() int {
	return int(l.limit)
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
