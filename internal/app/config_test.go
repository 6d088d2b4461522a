package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, SessionBackendRedis, cfg.SessionBackend)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.IsProduction())

	engineCfg := cfg.EngineConfig()
	assert.Equal(t, []byte(testSecret), engineCfg.JWT.PrivateKey)
	assert.Equal(t, "goidentity", engineCfg.JWT.Issuer)
	assert.Zero(t, engineCfg.RBAC.CacheTTL, "decision cache is opt-in for deployments")
	assert.Equal(t, "user", engineCfg.Account.DefaultRole)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Config{
		JWTSecret:           "short",
		SessionBackend:      "memcached",
		LogFormat:           "xml",
		WorkerConcurrency:   0,
		OTelMetricsInterval: -time.Second,
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"JWT_SECRET", "SESSION_BACKEND", "LOG_FORMAT", "WORKER_CONCURRENCY", "OTEL_METRICS_LOG_INTERVAL"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestOverridesFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("APP_ENV", "production")
	t.Setenv("SESSION_BACKEND", "postgres")
	t.Setenv("REQUIRE_VERIFIED_LOGIN", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RBAC_CACHE_TTL", "45s")
	t.Setenv("OTEL_METRICS_LOG_INTERVAL", "1m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, SessionBackendPostgres, cfg.SessionBackend)
	assert.True(t, cfg.EngineConfig().EmailVerification.RequireForLogin)
	assert.Equal(t, 3, cfg.RedisOpts().DB)
	assert.Equal(t, 45*time.Second, cfg.EngineConfig().RBAC.CacheTTL)
	assert.Equal(t, time.Minute, cfg.OTelMetricsInterval)
}

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)

	buf.Reset()
	newLogger(&buf, &Config{LogFormat: "text", LogLevel: "bogus"}).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
