package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/policy"
)

var configKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DB_PATH", "REDIS_ADDR", "LOCK_TTL", "SWEEP_INTERVAL",
	"OPERATION_TIMEOUT", "CORS_ORIGINS", "POLICY_FILE", "POLICY_DEFAULT_PAYMENT_DAY",
	"POLICY_LATE_FEE", "POLICY_GRACE_DAYS", "POLICY_PRORATION_RULE", "POLICY_ROUNDING",
}

// clearConfigEnv blanks every key for the duration of the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Server.Port)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("Expected development env, got %s", cfg.Server.Env)
	}
	if cfg.Database.Path != "lease.db" {
		t.Errorf("Expected db path lease.db, got %s", cfg.Database.Path)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Expected no redis, got %s", cfg.Redis.Addr)
	}
	if cfg.Core.OperationTimeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %s", cfg.Core.OperationTimeout)
	}
	if cfg.Core.SweepInterval != time.Hour {
		t.Errorf("Expected 1h sweep, got %s", cfg.Core.SweepInterval)
	}
	if len(cfg.CORS.Origins) != 2 {
		t.Errorf("Expected 2 CORS origins, got %d", len(cfg.CORS.Origins))
	}
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOCK_TTL", "3s")
	t.Setenv("SWEEP_INTERVAL", "0")
	t.Setenv("OPERATION_TIMEOUT", "750ms")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("POLICY_LATE_FEE", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, time.Duration(0), cfg.Core.SweepInterval)
	assert.Equal(t, 750*time.Millisecond, cfg.Core.OperationTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.Origins)
	assert.Equal(t, "50", cfg.Policy.LateFee)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080"},
			Database: DatabaseConfig{Path: "x.db"},
			Core:     CoreConfig{OperationTimeout: time.Second},
			CORS:     CORSConfig{Origins: []string{"*"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }, "PORT is required"},
		{"missing db", func(c *Config) { c.Database.Path = "" }, "DB_PATH is required"},
		{"redis without ttl", func(c *Config) { c.Redis.Addr = "r:6379" }, "LOCK_TTL must be positive when REDIS_ADDR is set"},
		{"zero timeout", func(c *Config) { c.Core.OperationTimeout = 0 }, "OPERATION_TIMEOUT must be positive"},
		{"negative sweep", func(c *Config) { c.Core.SweepInterval = -time.Second }, "SWEEP_INTERVAL must be non-negative"},
		{"no origins", func(c *Config) { c.CORS.Origins = nil }, "CORS_ORIGINS is required"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

// =============================================================================
// POLICY
// =============================================================================

func TestLoadPolicy_InlineOverridesDefault(t *testing.T) {
	p, err := LoadPolicy(PolicyConfig{
		DefaultPaymentDay: "5",
		LateFee:           "75.50",
		GraceDays:         "3",
		ProrationRule:     string(calendar.RuleSameMonthToPayday),
	})
	require.NoError(t, err)

	assert.Equal(t, 5, p.DefaultPaymentDay)
	assert.Equal(t, "75.50", p.LateFeeAmount.String())
	assert.Equal(t, 3, p.GraceDays)
	assert.Equal(t, calendar.RuleSameMonthToPayday, p.ProrationRule)
	assert.Equal(t, policy.RoundHalfAwayFromZero, p.MoneyRounding)
}

func TestLoadPolicy_InlineEmptyIsDefault(t *testing.T) {
	p, err := LoadPolicy(PolicyConfig{})
	require.NoError(t, err)
	assert.Equal(t, policy.Default(), p)
}

func TestLoadPolicy_InlineInvalid(t *testing.T) {
	for _, cfg := range []PolicyConfig{
		{DefaultPaymentDay: "thirty"},
		{DefaultPaymentDay: "32"},
		{LateFee: "-1"},
		{GraceDays: "-2"},
		{ProrationRule: "weekly"},
		{Rounding: "banker"},
	} {
		_, err := LoadPolicy(cfg)
		assert.ErrorIs(t, err, policy.ErrInvalidPolicy, "%+v", cfg)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPolicy_JSONFile(t *testing.T) {
	path := writeFile(t, "policy.json", policy.StandardJSON("50.00", 5))

	p, err := LoadPolicy(PolicyConfig{File: path})
	require.NoError(t, err)

	assert.Equal(t, "standard", p.Name)
	assert.Equal(t, "50.00", p.LateFeeAmount.String())
	assert.Equal(t, 5, p.GraceDays)
}

func TestLoadPolicy_YAMLFile(t *testing.T) {
	path := writeFile(t, "policy.yaml", "name: yearly\ndefault_payment_day: 15\nlate_fee_amount: 25\ngrace_days: 2\n")

	p, err := LoadPolicy(PolicyConfig{File: path})
	require.NoError(t, err)

	assert.Equal(t, "yearly", p.Name)
	assert.Equal(t, 15, p.DefaultPaymentDay)
	assert.Equal(t, "25.00", p.LateFeeAmount.String())
	assert.Equal(t, calendar.RuleSpanToNextPayday, p.ProrationRule)
}

func TestLoadPolicy_FileErrors(t *testing.T) {
	_, err := LoadPolicy(PolicyConfig{File: filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)

	path := writeFile(t, "policy.json", `{"grace_days": 3, "surprise": true}`)
	_, err = LoadPolicy(PolicyConfig{File: path})
	assert.ErrorIs(t, err, policy.ErrInvalidPolicy)
}

func TestReloadPolicy(t *testing.T) {
	// GIVEN: a holder loaded from a file
	path := writeFile(t, "policy.json", policy.StandardJSON("50.00", 5))
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	start, err := decodePolicy(v)
	require.NoError(t, err)
	holder, err := policy.NewHolder(start)
	require.NoError(t, err)
	log := zap.NewNop()

	// WHEN: the file changes to a valid document
	require.NoError(t, os.WriteFile(path, []byte(policy.StandardJSON("80.00", 2)), 0o600))
	require.NoError(t, v.ReadInConfig())
	reloadPolicy(v, holder, log, fsnotify.Event{Name: path, Op: fsnotify.Write})

	// THEN: the holder serves the new policy
	assert.Equal(t, "80.00", holder.Current().LateFeeAmount.String())
	assert.Equal(t, 2, holder.Current().GraceDays)

	// WHEN: the file becomes invalid
	require.NoError(t, os.WriteFile(path, []byte(`{"grace_days": -4}`), 0o600))
	require.NoError(t, v.ReadInConfig())
	reloadPolicy(v, holder, log, fsnotify.Event{Name: path, Op: fsnotify.Write})

	// THEN: the previous policy stays
	assert.Equal(t, "80.00", holder.Current().LateFeeAmount.String())
}

func TestWatchPolicy_NoFileIsNoop(t *testing.T) {
	holder, err := policy.NewHolder(policy.Default())
	require.NoError(t, err)
	assert.NoError(t, WatchPolicy(PolicyConfig{}, holder, zap.NewNop()))
}
