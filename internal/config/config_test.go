package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"POSTGRES_DSN", "LOCK_BACKEND", "DISPATCH_MAX_ATTEMPTS", "ARCHIVE_S3_PATH_STYLE"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.PostgresDSN != "" {
		t.Fatalf("expected in-memory default, got %q", cfg.PostgresDSN)
	}
	if cfg.LockBackend != LockMemory {
		t.Fatalf("expected memory lock backend got %q", cfg.LockBackend)
	}
	if cfg.MaxAttempts != 3 || cfg.ArchiveS3PathStyle {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "Redis")
	t.Setenv("LOCK_TTL", "3s")
	t.Setenv("DISPATCH_MAX_ATTEMPTS", "7")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "0.5")
	t.Setenv("ARCHIVE_S3_PATH_STYLE", "true")
	t.Setenv("BACKOFF_MAX", "not-a-duration")

	cfg := Load()
	if cfg.LockBackend != LockRedis || cfg.LockTTL != 3*time.Second {
		t.Fatalf("lock settings not applied: %+v", cfg)
	}
	if cfg.MaxAttempts != 7 || cfg.RateLimitRefill != 0.5 || !cfg.ArchiveS3PathStyle {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.BackoffMax != time.Minute {
		t.Fatalf("bad duration should fall back to default, got %v", cfg.BackoffMax)
	}
}
