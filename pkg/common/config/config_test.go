package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8081", cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "local", cfg.SchedulerBackend)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.True(t, cfg.RejectDuplicateFiles)
	assert.Zero(t, cfg.MaxJobRuntime)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INGESTION_WORKERS", "9")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("INGESTION_MAX_RUNTIME", "90s")
	t.Setenv("INGESTION_REJECT_DUPLICATE_FILES", "false")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	assert.Equal(t, 9, cfg.WorkerCount)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 90*time.Second, cfg.MaxJobRuntime)
	assert.False(t, cfg.RejectDuplicateFiles)
	assert.Equal(t, 0, cfg.RedisDB)
}
