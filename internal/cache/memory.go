package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryClient struct {
	mu     sync.Mutex
	c      *gocache.Cache
	prefix string
}

// NewMemory creates an in-process cache
func NewMemory(prefix string) Client {
	return &memoryClient{
		c:      gocache.New(gocache.NoExpiration, time.Minute),
		prefix: prefix,
	}
}

func (m *memoryClient) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(prefixed(m.prefix, key))
	if !ok {
		return nil, ErrNotFound
	}
	b, _ := v.([]byte)
	return b, nil
}

func (m *memoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(prefixed(m.prefix, key), value, ttl)
	return nil
}

func (m *memoryClient) Delete(_ context.Context, key string) error {
	m.c.Delete(prefixed(m.prefix, key))
	return nil
}

func (m *memoryClient) Pop(_ context.Context, key string) ([]byte, error) {
	k := prefixed(m.prefix, key)

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(k)
	if !ok {
		return nil, ErrNotFound
	}
	m.c.Delete(k)
	b, _ := v.([]byte)
	return b, nil
}

func (m *memoryClient) Ping(context.Context) error { return nil }

func (m *memoryClient) Close() error {
	m.c.Flush()
	return nil
}
