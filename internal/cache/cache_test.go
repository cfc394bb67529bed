package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := NewRedis(Config{Addr: mr.Addr(), Prefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return map[string]Client{
		"memory": NewMemory("test"),
		"redis":  rc,
	}
}

func TestClient_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
			got, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			require.NoError(t, c.Delete(ctx, "k"))
			_, err = c.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, c.Ping(ctx))
		})
	}
}

func TestClient_PopIsSingleUse(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "consent", []byte("payload"), time.Minute))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := c.Pop(ctx, "consent"); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			_, err := c.Pop(ctx, "consent")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRedis_ExpiryAndPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c, err := NewRedis(Config{Addr: mr.Addr(), Prefix: "idp"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	assert.True(t, mr.Exists("idp:k"))

	mr.FastForward(2 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("")
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	_, err := c.Pop(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew(t *testing.T) {
	c, err := New(Config{Driver: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = New(Config{Driver: "memcached"})
	assert.Error(t, err)

	_, err = New(Config{Driver: "redis", Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
