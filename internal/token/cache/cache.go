// Package cache keeps a write-through copy of the revocation set in Redis so validation
// usually avoids a database round trip.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "revoked:"

// RevocationCache is a best-effort index over the durable revocation set. A miss is not authoritative.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisCache implements RevocationCache with one key per jti that expires with the token.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache returns a cache backed by client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Open parses a redis:// URL, pings the server, and returns the client.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// MarkRevoked records jti until ttl elapses. Non-positive ttls are skipped: the token is already expired.
func (c *RedisCache) MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, keyPrefix+jti, 1, ttl).Err()
}

// IsRevoked reports whether jti is cached as revoked.
func (c *RedisCache) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
