package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("QUOTA_BACKEND", "")
	t.Setenv("COMMIT_TIMEOUT", "")
	t.Setenv("REDIS_ADDR", "")

	cfg := Load()
	assert.Equal(t, BackendDatabase, cfg.LedgerBackend)
	assert.Equal(t, BackendDatabase, cfg.QuotaBackend)
	assert.Equal(t, 5*time.Second, cfg.CommitTimeout)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUOTA_BACKEND", "Redis")
	t.Setenv("LEDGER_BACKEND", "sql")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("COMMIT_TIMEOUT", "750ms")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, ,192.168.0.0/16")
	t.Setenv("RATE_LIMIT_RATE", "2.5")
	t.Setenv("ENVIRONMENT", "Production")

	cfg := Load()
	assert.Equal(t, BackendRedis, cfg.QuotaBackend)
	assert.Equal(t, BackendDatabase, cfg.LedgerBackend)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 750*time.Millisecond, cfg.CommitTimeout)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.TrustedProxies)
	assert.Equal(t, 2.5, cfg.RateLimit.Rate)
	assert.True(t, cfg.IsProduction())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("COMMIT_TIMEOUT", "-1s")
	t.Setenv("RENEWAL_BATCH_SIZE", "many")
	t.Setenv("QUOTA_BACKEND", "etcd")

	cfg := Load()
	assert.Equal(t, 5*time.Second, cfg.CommitTimeout)
	assert.Equal(t, 100, cfg.Renewal.BatchSize)
	assert.Equal(t, BackendDatabase, cfg.QuotaBackend)
}

func TestTelemetryFollowsEnvironment(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("LOG_LEVEL", "DEBUG")

	t.Setenv("ENVIRONMENT", "production")
	cfg := Load()
	assert.True(t, cfg.Telemetry.TracingEnabled)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)

	t.Setenv("ENVIRONMENT", "local")
	t.Setenv("OTEL_ENABLED", "true")
	cfg = Load()
	assert.True(t, cfg.Telemetry.TracingEnabled)
	assert.True(t, cfg.IsDevelopment())
}
