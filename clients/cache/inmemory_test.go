package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitTestInMemoryCacheSetGetDelete(t *testing.T) {
	ctx := context.Background()
	inMemoryCache := NewInMemoryCache()

	require.NoError(t, inMemoryCache.Set(ctx, "key-1", []byte("value-1"), time.Minute))

	data, err := inMemoryCache.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value-1"), data)

	require.NoError(t, inMemoryCache.Delete(ctx, "key-1"))

	_, err = inMemoryCache.Get(ctx, "key-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnitTestInMemoryCacheMissingKey(t *testing.T) {
	inMemoryCache := NewInMemoryCache()

	_, err := inMemoryCache.Get(context.Background(), "no-such-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnitTestInMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	inMemoryCache := NewInMemoryCache()

	require.NoError(t, inMemoryCache.Set(ctx, "key-1", []byte("value-1"), time.Millisecond))

	time.Sleep(5 * time.Millisecond)

	_, err := inMemoryCache.Get(ctx, "key-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
