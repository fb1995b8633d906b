package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds shared runtime configuration for the API, worker and CLI.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string
	// PostgresDSN selects the Postgres repository. Empty keeps everything in memory.
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LockBackend       string
	LockTTL           time.Duration
	LockRetryInterval time.Duration

	RateLimitCapacity int
	RateLimitRefill   float64
	RateLimitTTL      time.Duration

	FactoryWebhookURL     string
	FactoryTimeout        time.Duration
	FactoryCallbackSecret string

	VisibilityTimeout  time.Duration
	DispatchPoll       time.Duration
	MaxAttempts        int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	ScheduledBatchSize int

	ArchiveDir         string
	ArchiveS3Bucket    string
	ArchiveS3Region    string
	ArchiveS3Endpoint  string
	ArchiveS3PathStyle bool
}

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:                   getEnv("APP_ENV", "dev"),
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		MetricsAddr:           getEnv("METRICS_ADDR", ":9090"),
		PostgresDSN:           getEnv("POSTGRES_DSN", ""),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		LockBackend:           strings.ToLower(getEnv("LOCK_BACKEND", LockMemory)),
		LockTTL:               getEnvDuration("LOCK_TTL", 10*time.Second),
		LockRetryInterval:     getEnvDuration("LOCK_RETRY_INTERVAL", 25*time.Millisecond),
		RateLimitCapacity:     getEnvInt("RATE_LIMIT_CAPACITY", 20),
		RateLimitRefill:       getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 1),
		RateLimitTTL:          getEnvDuration("RATE_LIMIT_TTL", 10*time.Minute),
		FactoryWebhookURL:     getEnv("FACTORY_WEBHOOK_URL", ""),
		FactoryTimeout:        getEnvDuration("FACTORY_TIMEOUT", 30*time.Second),
		FactoryCallbackSecret: getEnv("FACTORY_CALLBACK_SECRET", ""),
		VisibilityTimeout:     getEnvDuration("DISPATCH_VISIBILITY_TIMEOUT", time.Minute),
		DispatchPoll:          getEnvDuration("DISPATCH_POLL_INTERVAL", time.Second),
		MaxAttempts:           getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
		BackoffInitial:        getEnvDuration("BACKOFF_INITIAL", 2*time.Second),
		BackoffMax:            getEnvDuration("BACKOFF_MAX", time.Minute),
		ScheduledBatchSize:    getEnvInt("SCHEDULED_BATCH_SIZE", 100),
		ArchiveDir:            getEnv("ARCHIVE_DIR", ""),
		ArchiveS3Bucket:       getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Region:       getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Endpoint:     getEnv("ARCHIVE_S3_ENDPOINT", ""),
		ArchiveS3PathStyle:    getEnvBool("ARCHIVE_S3_PATH_STYLE", false),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
