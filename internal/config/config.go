package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds process configuration loaded from environment variables and an optional .env file.
// Business settings (company name, currency label, low-stock threshold) live in the settings table.
type Config struct {
	Env      string `mapstructure:"APP_ENV"` // development | production
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	TxTimeoutSeconds int    `mapstructure:"TX_TIMEOUT_SECONDS"`

	CashAllowOverdraft bool   `mapstructure:"CASH_ALLOW_OVERDRAFT"`
	DefaultActor       string `mapstructure:"DEFAULT_ACTOR"`

	RedisAddr                string `mapstructure:"REDIS_ADDR"`
	RedisPassword            string `mapstructure:"REDIS_PASSWORD"`
	RedisDB                  int    `mapstructure:"REDIS_DB"`
	AnalyticsCacheTTLSeconds int    `mapstructure:"ANALYTICS_CACHE_TTL_SECONDS"`
}

// Load reads configuration from the environment (and .env when present).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TX_TIMEOUT_SECONDS", 5)
	v.SetDefault("CASH_ALLOW_OVERDRAFT", true)
	v.SetDefault("DEFAULT_ACTOR", "system")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ANALYTICS_CACHE_TTL_SECONDS", 60)

	// Missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TxTimeoutSeconds < 1 {
		return fmt.Errorf("TX_TIMEOUT_SECONDS must be at least 1, got %d", c.TxTimeoutSeconds)
	}
	if c.AnalyticsCacheTTLSeconds < 0 {
		return fmt.Errorf("ANALYTICS_CACHE_TTL_SECONDS must not be negative, got %d", c.AnalyticsCacheTTLSeconds)
	}
	if c.DefaultActor == "" {
		return fmt.Errorf("DEFAULT_ACTOR must not be empty")
	}
	return nil
}

func (c *Config) TxTimeout() time.Duration {
	return time.Duration(c.TxTimeoutSeconds) * time.Second
}

func (c *Config) AnalyticsCacheTTL() time.Duration {
	return time.Duration(c.AnalyticsCacheTTLSeconds) * time.Second
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
