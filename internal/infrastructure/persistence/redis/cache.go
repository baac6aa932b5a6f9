// Package redis holds the Redis side of the scoring engine: the sorted-set
// leaderboard cache, its circuit-breaker guard and the lease that keeps
// maintenance jobs single-flight across workers.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces every key, so deployments can share a server.
	KeyPrefix string

	PoolSize     int
	MaxRetries   int // -1 disables retries
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "scoring:",
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

var (
	ErrCacheConnection = errors.New("redis: connection failed")
	ErrLockNotHeld     = errors.New("redis: lock not held by owner")
)

const (
	PrefixLeaderboard = "leaderboard:"
	prefixLock        = "lock:"

	// TTLLeaderboardCache is refreshed by every write, so only an abandoned
	// leaderboard expires.
	TTLLeaderboardCache = 30 * time.Minute
	defaultLockTTL      = 30 * time.Second
)

// Cache is a Redis client bound to one key prefix.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

// NewCache dials Redis and fails unless a PING answers within DialTimeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, cfg.Addr, err)
	}
	return NewCacheFromClient(client, cfg.KeyPrefix), nil
}

func NewCacheFromClient(client redis.UniversalClient, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) Client() redis.UniversalClient  { return c.client }
func (c *Cache) Key(k string) string            { return c.prefix + k }
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }
func (c *Cache) Close() error                   { return c.client.Close() }

// unlockScript deletes KEYS[1] only while it still holds ARGV[1].
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock takes the lease on resource for owner. It reports false, without
// error, while someone else holds it.
func (c *Cache) TryLock(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return c.client.SetNX(ctx, c.Key(prefixLock+resource), owner, ttl).Result()
}

func (c *Cache) Unlock(ctx context.Context, resource, owner string) error {
	deleted, err := unlockScript.Run(ctx, c.client, []string{c.Key(prefixLock + resource)}, owner).Int()
	switch {
	case err != nil:
		return err
	case deleted == 0:
		return ErrLockNotHeld
	}
	return nil
}
