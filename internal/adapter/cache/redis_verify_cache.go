package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onesub/vendor-gateway/internal/repository"
)

const verifyKeyPrefix = "verify:cache_until:"

// RedisVerifyCache implements VerifyCache backed by Redis. It stores only the
// cacheUntil horizon per token; access decisions are never cached here.
type RedisVerifyCache struct {
	client redis.UniversalClient
}

var _ repository.VerifyCache = (*RedisVerifyCache)(nil)

// NewRedisVerifyCache constructs a Redis-backed verify cache.
func NewRedisVerifyCache(client redis.UniversalClient) *RedisVerifyCache {
	return &RedisVerifyCache{client: client}
}

// GetCacheUntil returns the pinned horizon for the token, if any.
func (c *RedisVerifyCache) GetCacheUntil(ctx context.Context, token string) (time.Time, bool, error) {
	raw, err := c.client.Get(ctx, verifyKeyPrefix+token).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("load cache horizon: %w", err)
	}
	return decodeHorizon(raw)
}

// PinCacheUntil pins the candidate horizon unless one is already pinned, and
// returns whichever value won. The key expires at the horizon itself, so the
// next call after the window starts a fresh one.
func (c *RedisVerifyCache) PinCacheUntil(ctx context.Context, token string, until time.Time) (time.Time, error) {
	key := verifyKeyPrefix + token
	ttl := time.Until(until)
	if ttl <= 0 {
		return until, nil
	}

	encoded := strconv.FormatInt(until.UnixMilli(), 10)
	set, err := c.client.SetNX(ctx, key, encoded, ttl).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("pin cache horizon: %w", err)
	}
	if set {
		return until, nil
	}

	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			// Pinned value expired between SETNX and GET; the candidate wins.
			return until, nil
		}
		return time.Time{}, fmt.Errorf("load pinned horizon: %w", err)
	}
	pinned, ok, err := decodeHorizon(raw)
	if err != nil || !ok {
		return until, err
	}
	return pinned, nil
}

func decodeHorizon(raw string) (time.Time, bool, error) {
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode cache horizon: %w", err)
	}
	return time.UnixMilli(millis), true, nil
}
