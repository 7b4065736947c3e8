// Package redis implements the cache contract on top of a Redis backend via
// go-redis. Every operation is fail-open: backend errors count in metrics and
// report the absent result, never an error.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bentman/jarvis/runtime/cache"
	"github.com/bentman/jarvis/runtime/canonjson"
	"github.com/bentman/jarvis/runtime/telemetry"
)

type (
	// Options configures the Redis cache client.
	Options struct {
		// Addr is the Redis host:port. Required when Enabled.
		Addr string
		// Password authenticates against the server. Optional.
		Password string
		// DB selects the Redis logical database.
		DB int
		// Enabled gates all cache traffic. A disabled client answers
		// every operation with the absent result without touching the
		// backend.
		Enabled bool
		// DefaultTTL applies when Set is called with a non-positive TTL.
		// Defaults to one hour.
		DefaultTTL time.Duration
		// OpTimeout bounds every backend operation. Defaults to 2s.
		OpTimeout time.Duration
		// Metrics receives hit/miss/error counts. Defaults to a fresh
		// recorder.
		Metrics *cache.Metrics
		// Logger receives degradation warnings. Defaults to no-op.
		Logger telemetry.Logger
	}

	// Client is a fail-open Redis cache.
	Client struct {
		rdb        *goredis.Client
		enabled    bool
		defaultTTL time.Duration
		opTimeout  time.Duration
		metrics    *cache.Metrics
		logger     telemetry.Logger
	}
)

const (
	defaultTTL       = time.Hour
	defaultOpTimeout = 2 * time.Second
)

// Validate checks the options.
func (o *Options) Validate() error {
	if o.Enabled && o.Addr == "" {
		return errors.New("redis cache: addr is required")
	}
	return nil
}

// New constructs a Client. A disabled client is valid and never dials.
func New(opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		enabled:    opts.Enabled,
		defaultTTL: opts.DefaultTTL,
		opTimeout:  opts.OpTimeout,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = defaultTTL
	}
	if c.opTimeout <= 0 {
		c.opTimeout = defaultOpTimeout
	}
	if c.metrics == nil {
		c.metrics = cache.NewMetrics()
	}
	if c.logger == nil {
		c.logger = telemetry.NewNoopLogger()
	}
	if c.enabled {
		c.rdb = goredis.NewClient(&goredis.Options{
			Addr:         opts.Addr,
			Password:     opts.Password,
			DB:           opts.DB,
			DialTimeout:  c.opTimeout,
			ReadTimeout:  c.opTimeout,
			WriteTimeout: c.opTimeout,
		})
	}
	return c, nil
}

// Get returns the cached value for key, or ok=false when absent, disabled,
// or on any backend error.
func (c *Client) Get(ctx context.Context, key string) (string, bool) {
	if !c.enabled {
		return "", false
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		c.metrics.Miss(cache.CategoryForKey(key))
		return "", false
	}
	if err != nil {
		c.degrade(ctx, "get", key, err)
		return "", false
	}
	c.metrics.Hit(cache.CategoryForKey(key))
	return value, true
}

// Set stores value under key. Non-positive TTLs use the client default.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !c.enabled {
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.degrade(ctx, "set", key, err)
		return false
	}
	c.metrics.Set()
	return true
}

// Delete removes key, reporting whether a value was present.
func (c *Client) Delete(ctx context.Context, key string) bool {
	if !c.enabled {
		return false
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		c.degrade(ctx, "delete", key, err)
		return false
	}
	if n > 0 {
		c.metrics.Delete()
	}
	return n > 0
}

// InvalidatePattern deletes all keys matching a glob-style pattern via SCAN
// and returns the number removed.
func (c *Client) InvalidatePattern(ctx context.Context, pattern string) int {
	if !c.enabled {
		return 0
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.degrade(ctx, "scan", pattern, err)
			return removed
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				c.degrade(ctx, "delete", pattern, err)
				return removed
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	for i := 0; i < removed; i++ {
		c.metrics.Delete()
	}
	return removed
}

// GetJSON reads key and decodes its JSON value into v.
func (c *Client) GetJSON(ctx context.Context, key string, v any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		c.degrade(ctx, "decode", key, err)
		return false
	}
	return true
}

// SetJSON encodes v as canonical JSON and stores it under key.
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) bool {
	encoded, err := canonjson.MarshalString(v)
	if err != nil {
		c.degrade(ctx, "encode", key, err)
		return false
	}
	return c.Set(ctx, key, encoded, ttl)
}

// Health reports backend status. Messages match the health endpoint
// vocabulary: "Caching disabled", "Connection unavailable", "Connected".
func (c *Client) Health(ctx context.Context) cache.Health {
	if !c.enabled {
		return cache.Health{Enabled: false, Connected: false, Message: "Caching disabled"}
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return cache.Health{Enabled: true, Connected: false, Message: "Connection unavailable"}
	}
	return cache.Health{Enabled: true, Connected: true, Message: "Connected"}
}

// Close releases the backend connection.
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Metrics exposes the metrics recorder for health and shutdown reporting.
func (c *Client) Metrics() *cache.Metrics {
	return c.metrics
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

func (c *Client) degrade(ctx context.Context, op, key string, err error) {
	c.metrics.Error()
	c.logger.Warn(ctx, "cache degraded", "op", op, "key", key, "err", fmt.Sprint(err))
}
