package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "redis", cfg.Backend.Driver)
	assert.Equal(t, "redis://localhost:6379", cfg.Backend.RedisURL)
	assert.Equal(t, "agentmem", cfg.Backend.Namespace)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Resilience.CoolDown)
	assert.Equal(t, 0.05, cfg.Quality.UsageWeight)
	assert.Equal(t, 0.06, cfg.Quality.ValidationWeight)
	assert.Equal(t, 0.75, cfg.Quality.PromotionThreshold)
	assert.Equal(t, int64(3), cfg.Quality.PromotionMinUsage)
	assert.Equal(t, 20, cfg.Recall.DefaultLimit)
}

func TestNewConfigAppliesOptions(t *testing.T) {
	cfg, err := NewConfig(
		WithBackendDriver("sqlite"),
		WithSQLitePath("/tmp/test.db"),
		WithRetry(5, 50*time.Millisecond, time.Second),
		WithCircuitBreaker(7, 10*time.Second),
		WithPromotionThreshold(0.9),
	)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Backend.Driver)
	assert.Equal(t, "/tmp/test.db", cfg.Backend.SQLitePath)
	assert.Equal(t, 5, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 7, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Resilience.CoolDown)
	assert.Equal(t, 0.9, cfg.Quality.PromotionThreshold)
}

func TestNewConfigReadsEnvironment(t *testing.T) {
	t.Setenv("AGENTMEM_BACKEND_DRIVER", "postgres")
	t.Setenv("AGENTMEM_POSTGRES_DSN", "host=localhost dbname=agentmem")
	t.Setenv("AGENTMEM_BREAKER_THRESHOLD", "9")
	t.Setenv("AGENTMEM_PROMOTION_MIN_USAGE", "5")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Backend.Driver)
	assert.Equal(t, "host=localhost dbname=agentmem", cfg.Backend.PostgresDSN)
	assert.Equal(t, 9, cfg.Resilience.FailureThreshold)
	assert.Equal(t, int64(5), cfg.Quality.PromotionMinUsage)
}

func TestNewConfigFallsBackToRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache.internal:6380")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "redis://cache.internal:6380", cfg.Backend.RedisURL)
}

func TestNewConfigOptionsOverrideEnvironment(t *testing.T) {
	t.Setenv("AGENTMEM_BACKEND_DRIVER", "redis")

	cfg, err := NewConfig(WithBackendDriver("inmem"))
	require.NoError(t, err)
	assert.Equal(t, "inmem", cfg.Backend.Driver)
}

func TestNewConfigLoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmem.yaml")
	content := []byte(`
backend:
  driver: sqlite
  sqlite_path: /var/lib/agentmem/mem.db
quality:
  promotion_threshold: 0.8
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("AGENTMEM_CONFIG_FILE", path)

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Backend.Driver)
	assert.Equal(t, "/var/lib/agentmem/mem.db", cfg.Backend.SQLitePath)
	assert.Equal(t, 0.8, cfg.Quality.PromotionThreshold)
}

func TestNewConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"unknown driver", []Option{WithBackendDriver("mongo")}},
		{"postgres without dsn", []Option{WithBackendDriver("postgres")}},
		{"zero retry attempts", []Option{WithRetry(0, time.Millisecond, time.Second)}},
		{"threshold above one", []Option{WithPromotionThreshold(1.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.opts...)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}
