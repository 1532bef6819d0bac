package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache shares resolved permissions between processes. Entries expire
// server side; generations live in their own keys and are bumped with INCR.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a Redis backed cache. Keys are namespaced by prefix.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "accessd"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) valueKey(kind CacheKind, userID string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, kind, userID)
}

func (c *RedisCache) genKey(userID string) string {
	return fmt.Sprintf("%s:gen:%s", c.prefix, userID)
}

// Get returns the cached values for a user
func (c *RedisCache) Get(ctx context.Context, kind CacheKind, userID string) ([]string, bool, error) {
	key := c.valueKey(kind, userID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		// corrupt entries are dropped and treated as a miss
		c.client.Del(ctx, key)
		return nil, false, nil
	}
	if values == nil {
		values = []string{}
	}
	return values, true, nil
}

// Generation returns the user's current generation
func (c *RedisCache) Generation(ctx context.Context, userID string) (uint64, error) {
	gen, err := c.client.Get(ctx, c.genKey(userID)).Uint64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Set stores values when the user's generation still equals gen. The
// generation key is watched so an invalidation racing the write aborts it.
func (c *RedisCache) Set(ctx context.Context, kind CacheKind, userID string, values []string, gen uint64) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	genKey := c.genKey(userID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Uint64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.valueKey(kind, userID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)

	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Invalidate bumps the generation of every user and deletes their entries
func (c *RedisCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Incr(ctx, c.genKey(id))
			pipe.Del(ctx, c.valueKey(CacheRoles, id), c.valueKey(CachePermissions, id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return nil
}

// Purge deletes every cached entry under the prefix. Generations are kept.
func (c *RedisCache) Purge(ctx context.Context) error {
	for _, kind := range []CacheKind{CacheRoles, CachePermissions} {
		pattern := fmt.Sprintf("%s:%s:*", c.prefix, kind)
		var cursor uint64
		for {
			keys, next, err := c.client.Scan(ctx, cursor, pattern, 500).Result()
			if err != nil {
				return fmt.Errorf("redis scan failed: %w", err)
			}
			if len(keys) > 0 {
				if err := c.client.Del(ctx, keys...).Err(); err != nil {
					return fmt.Errorf("redis delete failed: %w", err)
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
