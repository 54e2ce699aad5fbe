package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/energy-process/platform/pkg/common/config"
	"github.com/energy-process/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// GetRedis returns nil when REDIS_HOST is unset or the server does not answer;
// callers treat Redis as optional.
func GetRedis(cfg *config.Config) *redis.Client {
	redisOnce.Do(func() {
		if cfg.RedisHost == "" {
			logger.Log.Info("Redis not configured, status cache disabled")
			return
		}
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,

			// Status reads fall back to the store, so fail fast.
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			PoolSize:     cfg.WorkerCount + 10,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Log.WithError(err).Warn("Redis unreachable, status cache disabled")
			_ = client.Close()
			return
		}
		redisClient = client
		logger.Log.WithFields(logrus.Fields{
			"addr": client.Options().Addr,
			"db":   cfg.RedisDB,
		}).Info("Connected to Redis")
	})

	return redisClient
}

func CloseRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}
