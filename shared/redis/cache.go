package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eaglebank/transfer-saga/shared/logger"
	goredis "github.com/redis/go-redis/v9"
)

// ViewCache is a JSON-backed Redis cache of read views under a key prefix.
// A zero TTL keeps entries until deleted. Cache failures are logged and
// treated as misses; the database stays the source of truth.
type ViewCache[T any] struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewViewCache[T any](client *goredis.Client, prefix string, ttl time.Duration) *ViewCache[T] {
	return &ViewCache[T]{client: client, prefix: prefix, ttl: ttl}
}

func (c *ViewCache[T]) key(id string) string {
	return c.prefix + id
}

func (c *ViewCache[T]) Get(ctx context.Context, id string) (*T, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Error("view cache read failed", err, logger.Fields{"key": c.key(id)})
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		logger.Error("view cache entry unreadable", err, logger.Fields{"key": c.key(id)})
		return nil, false
	}
	return &v, true
}

func (c *ViewCache[T]) Set(ctx context.Context, id string, value *T) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		logger.Error("view cache marshal failed", err, logger.Fields{"key": c.key(id)})
		return
	}
	if err := c.client.Set(ctx, c.key(id), data, c.ttl).Err(); err != nil {
		logger.Error("view cache write failed", err, logger.Fields{"key": c.key(id)})
	}
}

func (c *ViewCache[T]) Delete(ctx context.Context, id string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		logger.Error("view cache delete failed", err, logger.Fields{"key": c.key(id)})
	}
}
