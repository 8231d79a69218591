/*
Package config loads process configuration from the environment.

PURPOSE:
  Everything the server binary needs to start: listen port, log level, the
  SQLite path, the optional Redis address for cross-process locks, timing
  knobs, CORS origins, and the billing policy.

SOURCES (later wins):
  1. built-in defaults
  2. a .env file in the working directory, if present
  3. process environment

POLICY:
  POLICY_FILE names a JSON or YAML policy document (see policy.Document). When
  unset, the inline POLICY_* keys are overlaid on policy.Default(). See
  policy.go in this package for loading and hot reload.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Core     CoreConfig
	CORS     CORSConfig
	Policy   PolicyConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// DatabaseConfig points at the SQLite database. ":memory:" runs without a file.
type DatabaseConfig struct {
	Path string
}

// RedisConfig enables Redis locks when Addr is set.
type RedisConfig struct {
	Addr    string
	LockTTL time.Duration
}

// CoreConfig holds timing knobs of the leasing core.
type CoreConfig struct {
	OperationTimeout time.Duration
	// SweepInterval of 0 disables the background sweeper.
	SweepInterval time.Duration
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// PolicyConfig is either a file path or inline overrides. Empty strings mean
// "keep the default".
type PolicyConfig struct {
	File              string
	DefaultPaymentDay string
	LateFee           string
	GraceDays         string
	ProrationRule     string
	Rounding          string
}

// Load reads configuration from .env and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_PATH", "lease.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("LOCK_TTL", "10s")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("OPERATION_TIMEOUT", "5s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("POLICY_FILE", "")

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("PORT"),
			Env:      v.GetString("ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("DB_PATH"),
		},
		Redis: RedisConfig{
			Addr:    v.GetString("REDIS_ADDR"),
			LockTTL: v.GetDuration("LOCK_TTL"),
		},
		Core: CoreConfig{
			OperationTimeout: v.GetDuration("OPERATION_TIMEOUT"),
			SweepInterval:    v.GetDuration("SWEEP_INTERVAL"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Policy: PolicyConfig{
			File:              v.GetString("POLICY_FILE"),
			DefaultPaymentDay: v.GetString("POLICY_DEFAULT_PAYMENT_DAY"),
			LateFee:           v.GetString("POLICY_LATE_FEE"),
			GraceDays:         v.GetString("POLICY_GRACE_DAYS"),
			ProrationRule:     v.GetString("POLICY_PRORATION_RULE"),
			Rounding:          v.GetString("POLICY_ROUNDING"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive when REDIS_ADDR is set")
	}
	if c.Core.OperationTimeout <= 0 {
		return fmt.Errorf("OPERATION_TIMEOUT must be positive")
	}
	if c.Core.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be non-negative")
	}
	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}
	return nil
}

// IsDevelopment reports whether ENV selects the development profile.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Env, "development")
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
