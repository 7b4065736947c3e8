// Package cache defines the key/value cache contract used by the tool
// executor and workflow nodes, plus the deterministic key policy and the
// process-wide cache metrics. The cache is an optimization: every caller
// must tolerate its absence, and backends never surface errors: a failed
// operation reports the "absent" result instead.
package cache

import (
	"context"
	"time"
)

type (
	// Client is the cache contract. All operations are fail-open: a backend
	// error behaves like a miss (Get) or a no-op (Set, Delete) and is
	// reported through metrics rather than returned.
	Client interface {
		// Get returns the cached string value for key, or ok=false when
		// absent or on any backend error.
		Get(ctx context.Context, key string) (value string, ok bool)

		// Set stores value under key with the given TTL. A zero or
		// negative TTL uses the client default. Returns false on error.
		Set(ctx context.Context, key, value string, ttl time.Duration) bool

		// Delete removes key. Returns false when absent or on error.
		Delete(ctx context.Context, key string) bool

		// InvalidatePattern removes all keys matching a glob-style
		// pattern and returns the number removed.
		InvalidatePattern(ctx context.Context, pattern string) int

		// GetJSON reads key and decodes its JSON value into v.
		GetJSON(ctx context.Context, key string, v any) bool

		// SetJSON encodes v as canonical JSON and stores it under key.
		SetJSON(ctx context.Context, key string, v any, ttl time.Duration) bool

		// Health reports the backend status.
		Health(ctx context.Context) Health

		// Close releases the backend connection.
		Close() error
	}

	// Health is the cache health report.
	Health struct {
		Enabled   bool   `json:"enabled"`
		Connected bool   `json:"connected"`
		Message   string `json:"message"`
	}
)
