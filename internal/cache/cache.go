// Package cache stores short-lived values such as pending consent requests.
// The memory backend serves single-instance deployments and tests; the
// redis backend lets several instances share pending state.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is missing or expired
var ErrNotFound = errors.New("cache: key not found")

// Client is a string key/value store with per-key TTL
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Pop atomically reads and removes a key. Concurrent callers see the
	// value at most once.
	Pop(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New creates a Client for cfg.Driver
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	case "memory", "":
		return NewMemory(cfg.Prefix), nil
	default:
		return nil, errors.New("cache: unknown driver " + cfg.Driver)
	}
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
