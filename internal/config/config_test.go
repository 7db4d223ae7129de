package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TX_TIMEOUT_SECONDS", "")
	t.Setenv("CASH_ALLOW_OVERDRAFT", "")
	t.Setenv("DEFAULT_ACTOR", "")
	t.Setenv("ANALYTICS_CACHE_TTL_SECONDS", "")
	t.Setenv("APP_ENV", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout())
	assert.True(t, cfg.CashAllowOverdraft)
	assert.Equal(t, "system", cfg.DefaultActor)
	assert.Equal(t, time.Minute, cfg.AnalyticsCacheTTL())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("TX_TIMEOUT_SECONDS", "12")
	t.Setenv("CASH_ALLOW_OVERDRAFT", "false")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("DEFAULT_ACTOR", "workshop")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 12*time.Second, cfg.TxTimeout())
	assert.False(t, cfg.CashAllowOverdraft)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "workshop", cfg.DefaultActor)
}

func TestValidate(t *testing.T) {
	cfg := Config{TxTimeoutSeconds: 0, DefaultActor: "system"}
	assert.Error(t, cfg.Validate())

	cfg = Config{TxTimeoutSeconds: 3, AnalyticsCacheTTLSeconds: -1, DefaultActor: "system"}
	assert.Error(t, cfg.Validate())

	cfg = Config{TxTimeoutSeconds: 3, DefaultActor: ""}
	assert.Error(t, cfg.Validate())

	cfg = Config{TxTimeoutSeconds: 3, DefaultActor: "system"}
	assert.NoError(t, cfg.Validate())
}
