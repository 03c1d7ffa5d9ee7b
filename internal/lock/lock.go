// Package lock provides mutual exclusion for an agent namespace across
// processes sharing the same storage root: a flock file per namespace on one
// host, or redis when several hosts share the root.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when another holder keeps the lock past the wait.
var ErrNotAcquired = errors.New("lock: not acquired")

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker acquires named locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
	Close() error
}

// Config tunes the redis lock.
type Config struct {
	RedisURL string        `json:"redis_url" yaml:"redis_url"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"`
	Wait     time.Duration `json:"wait" yaml:"wait"`
}

const (
	keyPrefix    = "tiermem:lock:"
	pollInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a single-instance redis lock: SET NX PX with a random token.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(cfg Config, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	return &Redis{rdb: rdb, ttl: cfg.TTL, wait: cfg.Wait, logger: logger}, nil
}

// Acquire polls until the lock is taken, the wait elapses or ctx ends.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	name := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.rdb.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-time.After(pollInterval):
		}
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.rdb, []string{name}, token).Int()
		if err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		if n == 0 {
			r.logger.Warn("lock expired before release", zap.String("key", key))
		}
		return nil
	}, nil
}

// Close closes the redis client.
func (r *Redis) Close() error { return r.rdb.Close() }
