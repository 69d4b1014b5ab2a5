package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentflow/internal/config"

	"github.com/redis/go-redis/v9"
)

var errNilClient = errors.New("redis client is nil")

// releaseScript deletes the lease only while it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLimiter keeps rate-limit counters and run leases in Redis so they are
// shared by every process using the same instance.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// CheckRateLimit counts one hit for key in a fixed window and reports whether it is allowed.
func (r *RedisLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNilClient
	}
	redisKey := "rate_limit:" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return count <= int64(limit), nil
}

// AcquireLease takes key for owner unless another owner holds it.
func (r *RedisLimiter) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNilClient
	}
	ok, err := r.client.SetNX(ctx, "lease:"+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return ok, nil
}

func (r *RedisLimiter) ReleaseLease(ctx context.Context, key, owner string) error {
	if r.client == nil {
		return errNilClient
	}
	if err := releaseScript.Run(ctx, r.client, []string{"lease:" + key}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes client; a nil client is a no-op.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
