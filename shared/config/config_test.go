package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Stream.Transport)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
	assert.ElementsMatch(t, []string{"/health", "/metrics"}, cfg.Auth.BypassPaths)
	assert.Equal(t, 120, cfg.RateLimit.RPM)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("AURA_HTTP_ADDR", ":9090")
	t.Setenv("AURA_STREAM_TRANSPORT", "redis")
	t.Setenv("AURA_REDIS_ADDR", "localhost:6379")
	t.Setenv("AURA_RATELIMIT_RPM", "30")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "redis", cfg.Stream.Transport)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30, cfg.RateLimit.RPM)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auraaudit.yaml")
	data := []byte("store:\n  driver: postgres\ndatabase:\n  host: db.internal\n  port: 6543\nlog:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown store", func(c *Config) { c.Store.Driver = "sqlite" }, true},
		{"redis without addr", func(c *Config) { c.Stream.Transport = "redis"; c.Redis.Addr = "" }, true},
		{"kafka without brokers", func(c *Config) { c.Stream.Transport = "kafka"; c.Kafka.Brokers = nil }, true},
		{"kafka configured", func(c *Config) { c.Stream.Transport = "kafka"; c.Kafka.Brokers = []string{"b:9092"} }, false},
		{"unknown transport", func(c *Config) { c.Stream.Transport = "sse" }, true},
		{"negative rpm", func(c *Config) { c.RateLimit.RPM = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGet(t *testing.T) {
	t.Setenv("AURA_TEST_GET", "x")
	assert.Equal(t, "x", Get("AURA_TEST_GET", "d"))
	assert.Equal(t, "d", Get("AURA_TEST_GET_UNSET", "d"))
}
