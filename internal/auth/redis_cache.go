package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSessionPrefix = "session:"

// RedisCache is a SessionCache backed by a shared Redis instance, for
// deployments running more than one gateway process. Redis failures
// degrade to cache misses; the sign-in flow repopulates from the
// database.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a SessionCache on the given Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, uid string) (*UserAccount, bool) {
	data, err := c.client.Get(ctx, redisSessionPrefix+uid).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("session cache read failed", "uid", uid, "error", err)
		}
		return nil, false
	}
	var account UserAccount
	if err := json.Unmarshal(data, &account); err != nil {
		slog.Warn("session cache entry corrupt", "uid", uid, "error", err)
		return nil, false
	}
	return &account, true
}

func (c *RedisCache) Set(ctx context.Context, uid string, account *UserAccount) {
	data, err := json.Marshal(account)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisSessionPrefix+uid, data, c.ttl).Err(); err != nil {
		slog.Warn("session cache write failed", "uid", uid, "error", err)
	}
}

func (c *RedisCache) Remove(ctx context.Context, uid string) {
	if err := c.client.Del(ctx, redisSessionPrefix+uid).Err(); err != nil {
		slog.Warn("session cache delete failed", "uid", uid, "error", err)
	}
}
