package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientSetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClientDeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, c.Set(ctx, DomainCacheKey("d1", "q", "a"), []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, DomainCacheKey("d1", "q", "b"), []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, DomainCacheKey("d2", "q", "a"), []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, DomainCacheKey("d1")+":"))

	_, err := c.Get(ctx, DomainCacheKey("d1", "q", "a"))
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, DomainCacheKey("d2", "q", "a"))
	assert.NoError(t, err)
}

func TestMemoryClientCloseStopsCleanup(t *testing.T) {
	c := NewMemoryClient(10)

	require.NoError(t, c.Close())
	// Close is idempotent and the cleanup goroutine has a way out.
	require.NoError(t, c.Close())
	select {
	case <-c.done:
	default:
		t.Fatal("done channel still open after Close")
	}
}
