package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/energy-process/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "ingestion:archivo:"

// StatusCache serves status polling without touching the store. It is best
// effort: failures are logged and reads fall back to the store.
type StatusCache interface {
	Get(ctx context.Context, id string) (*Archivo, bool)
	Set(ctx context.Context, a *Archivo)
}

// NewStatusCache returns a Redis backed cache, or a no-op cache when client
// is nil.
func NewStatusCache(client *redis.Client, ttl time.Duration) StatusCache {
	if client == nil {
		return noopCache{}
	}
	return &RedisStatusCache{client: client, ttl: ttl}
}

type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func statusKey(id string) string {
	return statusKeyPrefix + id
}

func (c *RedisStatusCache) Get(ctx context.Context, id string) (*Archivo, bool) {
	raw, err := c.client.Get(ctx, statusKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.ForArchivo(id).WithError(err).Warn("status cache read failed")
		}
		return nil, false
	}
	var a Archivo
	if err := json.Unmarshal(raw, &a); err != nil {
		logger.ForArchivo(id).WithError(err).Warn("discarding corrupt status cache entry")
		return nil, false
	}
	return &a, true
}

func (c *RedisStatusCache) Set(ctx context.Context, a *Archivo) {
	raw, err := json.Marshal(a)
	if err != nil {
		logger.ForArchivo(a.ID).WithError(err).Warn("status cache encode failed")
		return
	}
	if err := c.client.Set(ctx, statusKey(a.ID), raw, c.ttl).Err(); err != nil {
		logger.ForArchivo(a.ID).WithError(err).Warn("status cache write failed")
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*Archivo, bool) { return nil, false }
func (noopCache) Set(context.Context, *Archivo)                {}
