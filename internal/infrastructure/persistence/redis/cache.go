// Package redis holds the Redis-backed pieces shared by several processes:
// the distributed lock that serializes ledger writes and the webhook
// delivery dedup store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// URL overrides Host/Port/Password/DB when set (redis://...).
	URL string

	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Options builds go-redis options from the config.
func (c Config) Options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
		}
		c.applyPool(opts)
		return opts, nil
	}
	opts := &redis.Options{
		Addr:     c.Addr(),
		Password: c.Password,
		DB:       c.DB,
	}
	c.applyPool(opts)
	return opts, nil
}

func (c Config) applyPool(o *redis.Options) {
	if c.PoolSize > 0 {
		o.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		o.MinIdleConns = c.MinIdleConns
	}
	if c.MaxRetries != 0 {
		o.MaxRetries = c.MaxRetries
	}
	if c.DialTimeout > 0 {
		o.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		o.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		o.WriteTimeout = c.WriteTimeout
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS & KEYS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrCacheMiss          = errors.New("cache miss")
	ErrCacheConnection    = errors.New("redis connection error")
	ErrCacheSerialization = errors.New("cache serialization error")
	ErrCacheKeyEmpty      = errors.New("cache key cannot be empty")
	ErrCacheInvalidTTL    = errors.New("cache TTL must not be negative")
)

const (
	// PrefixLock namespaces distributed locks.
	PrefixLock = "halaka:lock:"

	// PrefixWebhook namespaces webhook delivery markers.
	PrefixWebhook = "halaka:webhook:"
)

// LockKey returns the Redis key holding the lock on key.
func LockKey(key string) string {
	return PrefixLock + key
}

// WebhookKey returns the Redis key marking a processed delivery.
func WebhookKey(deliveryID string) string {
	return PrefixWebhook + deliveryID
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache wraps a go-redis client with JSON values.
type Cache struct {
	client *redis.Client
	config Config
}

// NewCache connects and pings Redis.
func NewCache(cfg Config) (*Cache, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return &Cache{client: client, config: cfg}, nil
}

// NewCacheFromClient wraps an existing client.
func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Client returns the underlying Redis client.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Set stores a JSON-encoded value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(key, value, ttl)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the value stored at key into dest.
// Returns ErrCacheMiss if the key doesn't exist.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// SetNX sets key only if it does not exist and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	data, err := encode(key, value, ttl)
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, key, data, ttl).Result()
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func encode(key string, value any, ttl time.Duration) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return nil, ErrCacheInvalidTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return data, nil
}
