package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	CORSOrigins    string
	RateLimitRPS   int
	RateLimitBurst int

	// Database
	StoreBackend     string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	StatusCacheTTL time.Duration

	// Kafka
	KafkaBrokers     []string
	KafkaGroupID     string
	KafkaJobsTopic   string
	KafkaEventsTopic string
	SchedulerBackend string
	NotifyWithKafka  bool

	// Ingestion
	UploadDir            string
	RulesPath            string
	WorkerCount          int
	FlushEvery           int
	MaxJobRuntime        time.Duration
	StaleJobAfter        time.Duration
	MaxUploadBytes       int64
	RejectDuplicateFiles bool
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8081"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 64*1024*1024)),
		CORSOrigins:    getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		StoreBackend:     getEnv("STORE_BACKEND", "postgres"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "energy_process"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:      getEnv("REDIS_HOST", ""),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		StatusCacheTTL: getDuration("STATUS_CACHE_TTL", 10*time.Minute),

		KafkaBrokers:     getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "energy-ingestion"),
		KafkaJobsTopic:   getEnv("KAFKA_JOBS_TOPIC", "archivo-jobs"),
		KafkaEventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "archivo-events"),
		SchedulerBackend: getEnv("SCHEDULER_BACKEND", "local"),
		NotifyWithKafka:  getBoolEnv("NOTIFY_WITH_KAFKA", false),

		UploadDir:            getEnv("UPLOAD_DIR", "./uploads"),
		RulesPath:            getEnv("INGESTION_RULES_PATH", ""),
		WorkerCount:          getIntEnv("INGESTION_WORKERS", 4),
		FlushEvery:           getIntEnv("INGESTION_FLUSH_EVERY", 500),
		MaxJobRuntime:        getDuration("INGESTION_MAX_RUNTIME", 0),
		StaleJobAfter:        getDuration("INGESTION_STALE_AFTER", 0),
		MaxUploadBytes:       int64(getIntEnv("INGESTION_MAX_UPLOAD_BYTES", 50*1024*1024)),
		RejectDuplicateFiles: getBoolEnv("INGESTION_REJECT_DUPLICATE_FILES", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
