package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisBlacklistPrefix = "revoked:"

// RedisBlacklist backs the revocation set with a shared key-value store so
// revocation stays consistent across processes. Expiry is delegated to the
// store's own key TTL.
type RedisBlacklist struct {
	client *redis.Client
}

func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func (b *RedisBlacklist) Add(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, redisBlacklistPrefix+tokenHash, "1", ttl).Err()
}

func (b *RedisBlacklist) Contains(ctx context.Context, tokenHash string) (bool, error) {
	count, err := b.client.Exists(ctx, redisBlacklistPrefix+tokenHash).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (b *RedisBlacklist) Clear(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, redisBlacklistPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := b.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
