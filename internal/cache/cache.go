// Package cache is a small Redis byte cache for style documents and map
// previews. Values are snappy-compressed; entries expire on a short TTL and
// a write always replaces the previous value for its key.
package cache

import (
	"context"
	"time"

	"github.com/golang/snappy"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "geosyncsrv:"

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl: ttl,
	}
}

// Get returns the cached value. Misses and transport failures both come
// back as a plain miss; the cache never fails a request path.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache: read failed")
		return nil, false
	}
	value, err := snappy.Decode(nil, raw)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache: corrupt entry dropped")
		c.Invalidate(ctx, key)
		return nil, false
	}
	return value, true
}

// Set stores the value under the cache TTL, replacing any previous entry.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	if c == nil {
		return
	}
	raw := snappy.Encode(nil, value)
	if err := c.rdb.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache: write failed")
	}
}

func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache: delete failed")
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
