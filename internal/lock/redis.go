// Package lock provides a Redis-backed sweep lease so that only one api-service
// instance sweeps sources at a time.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient parses redisURL and verifies connectivity
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// RedisLease is a single-holder lease on one key with a TTL
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	token string
}

// NewRedisLease creates a lease on key. The TTL bounds how long a crashed
// holder can block other instances.
func NewRedisLease(client *redis.Client, key string, ttl time.Duration, logger *slog.Logger) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the lease. It returns false when another holder has it.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.token = token
	l.mu.Unlock()

	l.logger.Debug("Sweep lease acquired",
		slog.String("key", l.key),
		slog.Duration("ttl", l.ttl),
	)
	return true, nil
}

// Release gives the lease back if this instance still holds it
func (l *RedisLease) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return nil
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	if deleted == 0 {
		l.logger.Warn("Sweep lease expired before release",
			slog.String("key", l.key),
		)
	}
	return nil
}
