package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds every cache round trip. A slow cache must not stall the
// request it sits in front of.
const opTimeout = 500 * time.Millisecond

// scanBatch is the SCAN page size used when dropping keys by pattern.
const scanBatch = 100

// RedisCache is the thin Redis layer shared by the typed caches and the
// live-query bus.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  opTimeout,
			WriteTimeout: opTimeout,
		}),
	}
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// Get returns nil, nil for a missing key.
func (c *RedisCache) Get(key string) ([]byte, error) {
	ctx, cancel := withTimeout()
	defer cancel()
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (c *RedisCache) Set(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete unlinks keys in one round trip.
func (c *RedisCache) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := withTimeout()
	defer cancel()
	return c.client.Unlink(ctx, keys...).Err()
}

// DeletePattern unlinks every key matching pattern, one SCAN page at a time.
func (c *RedisCache) DeletePattern(pattern string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 4*opTimeout)
	defer cancel()

	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Unlink(ctx, batch...).Err()
	}
	return nil
}

func (c *RedisCache) Publish(channel string, payload []byte) error {
	ctx, cancel := withTimeout()
	defer cancel()
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pub/sub connection on the given channels. The caller
// closes the returned PubSub.
func (c *RedisCache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}

func (c *RedisCache) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
