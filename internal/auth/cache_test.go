package auth_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appy-one/acebase-server-sub001/internal/auth"
)

func TestMemoryCache_SetGetRemove(t *testing.T) {
	cache := auth.NewMemoryCache(10, time.Hour)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "u1")
	assert.False(t, ok)

	cache.Set(ctx, "u1", &auth.UserAccount{UID: "u1", Username: "a"})
	account, ok := cache.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "a", account.Username)

	// Upserts are last-writer-wins.
	cache.Set(ctx, "u1", &auth.UserAccount{UID: "u1", Username: "b"})
	account, _ = cache.Get(ctx, "u1")
	assert.Equal(t, "b", account.Username)

	cache.Remove(ctx, "u1")
	_, ok = cache.Get(ctx, "u1")
	assert.False(t, ok)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := auth.NewMemoryCache(3, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		uid := fmt.Sprintf("u%d", i)
		cache.Set(ctx, uid, &auth.UserAccount{UID: uid})
	}

	// Touch u1 so u2 becomes the eviction candidate.
	_, ok := cache.Get(ctx, "u1")
	require.True(t, ok)

	cache.Set(ctx, "u4", &auth.UserAccount{UID: "u4"})

	_, ok = cache.Get(ctx, "u2")
	assert.False(t, ok, "least recently used entry should be evicted")
	for _, uid := range []string{"u1", "u3", "u4"} {
		_, ok := cache.Get(ctx, uid)
		assert.True(t, ok, uid)
	}
}

func TestMemoryCache_EntriesExpire(t *testing.T) {
	cache := auth.NewMemoryCache(10, 30*time.Millisecond)
	ctx := context.Background()

	cache.Set(ctx, "u1", &auth.UserAccount{UID: "u1"})
	time.Sleep(60 * time.Millisecond)

	_, ok := cache.Get(ctx, "u1")
	assert.False(t, ok, "expired entry should be a miss")
}

func setupRedisCache(t *testing.T, ttl time.Duration) (*auth.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return auth.NewRedisCache(client, ttl), mr
}

func TestRedisCache_SetGetRemove(t *testing.T) {
	cache, _ := setupRedisCache(t, time.Hour)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "u1")
	assert.False(t, ok)

	cache.Set(ctx, "u1", &auth.UserAccount{UID: "u1", Username: "a", AccessToken: "tkn"})
	account, ok := cache.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "a", account.Username)
	assert.Equal(t, "tkn", account.AccessToken)

	cache.Remove(ctx, "u1")
	_, ok = cache.Get(ctx, "u1")
	assert.False(t, ok)
}

func TestRedisCache_EntriesExpire(t *testing.T) {
	cache, mr := setupRedisCache(t, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, "u1", &auth.UserAccount{UID: "u1"})
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "u1")
	assert.False(t, ok)
}

func TestRedisCache_CorruptEntryIsAMiss(t *testing.T) {
	cache, mr := setupRedisCache(t, time.Hour)

	require.NoError(t, mr.Set("session:u1", "{not json"))
	_, ok := cache.Get(context.Background(), "u1")
	assert.False(t, ok)
}
