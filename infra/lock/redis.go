// Package lock provides the distributed single-flight lock shared by engine
// replicas.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/aquamarket/dispatch/core/logger"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config selects the Redis server.
type Config struct {
	URL       string `json:"url"`
	KeyPrefix string `json:"key_prefix"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "dispatch:lock:"
	}
}

// RedisLocker implements dispatch.Locker with SET NX PX.
type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
	log    logger.Logger
}

// NewRedisLocker parses cfg.URL and returns a locker.
func NewRedisLocker(cfg Config, log logger.Logger) (*RedisLocker, error) {
	cfg.SetDefaults()
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLockerWithClient(redis.NewClient(opt), cfg.KeyPrefix, log)
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(rdb redis.UniversalClient, prefix string, log logger.Logger) (*RedisLocker, error) {
	if rdb == nil {
		return nil, fmt.Errorf("nil parameter provided to NewRedisLocker")
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, log: logger.OrNop(log)}, nil
}

// TryLock acquires key for ttl. The returned release is safe to call after
// the lock expired and was taken by another holder.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	k := l.prefix + key
	ok, err := l.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", k, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{k}, token).Err(); err != nil {
			l.log.Warnf("release %s: %v", k, err)
		}
	}
	return release, true, nil
}

// Ping checks connectivity.
func (l *RedisLocker) Ping(ctx context.Context) error { return l.rdb.Ping(ctx).Err() }

// Close closes the underlying client.
func (l *RedisLocker) Close() error { return l.rdb.Close() }
