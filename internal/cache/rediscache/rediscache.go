// Package rediscache holds the shared Redis-backed pieces: the aggregator
// relation cache, the request budget and short-lived notification locks.
package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	relationPrefix = "tracktw:rel:"
	notifyPrefix   = "notify:"

	DefaultRelationTTL = 30 * 24 * time.Hour
)

type RedisCache struct {
	c           *redis.Client
	relationTTL time.Duration
}

func New(addr string) *RedisCache {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr: addr,
	}))
}

func NewWithClient(c *redis.Client) *RedisCache {
	return &RedisCache{c: c, relationTTL: DefaultRelationTTL}
}

func (r *RedisCache) WithRelationTTL(ttl time.Duration) *RedisCache {
	if ttl > 0 {
		r.relationTTL = ttl
	}
	return r
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return errors.Wrap(r.c.Ping(ctx).Err(), "redis ping")
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.c.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// GetRelation: tracking number -> relation id агрегатора.
func (r *RedisCache) GetRelation(ctx context.Context, trackingNumber string) (string, bool, error) {
	b, ok, err := r.Get(ctx, relationPrefix+trackingNumber)
	if err != nil || !ok {
		return "", false, err
	}
	return string(b), true, nil
}

func (r *RedisCache) SetRelation(ctx context.Context, trackingNumber, relationID string) error {
	return r.Set(ctx, relationPrefix+trackingNumber, []byte(relationID), r.relationTTL)
}

// AcquireNotify takes a one-shot lock for (package, status). Only the first
// caller within ttl gets true, so two pollers never push the same transition.
func (r *RedisCache) AcquireNotify(ctx context.Context, packageID, status string, ttl time.Duration) (bool, error) {
	ok, err := r.c.SetNX(ctx, notifyPrefix+packageID+":"+status, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	return ok, nil
}
