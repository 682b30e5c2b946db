package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, time.Second, cfg.SlowThreshold)
	assert.Equal(t, EngineFile, cfg.Flat.Engine)
	assert.Equal(t, int64(5<<20), cfg.Flat.MaxBytes)
	assert.Equal(t, 30*24*time.Hour, cfg.Flat.EvictAfter)
	assert.Equal(t, int64(1024), cfg.Probe.QuotaStart)
	assert.Equal(t, int64(10<<20), cfg.Probe.QuotaMax)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/remindr-test
owner: alice
timeout: 2s
durable:
  file: reminders.db
  watch_version: false
flat:
  engine: badger
  evict_after: 168h
retry:
  attempts: 5
  backoff: 50ms
log_level: debug
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/remindr-test", cfg.DataDir)
	assert.Equal(t, "alice", cfg.Owner)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, "/tmp/remindr-test/reminders.db", cfg.DurablePath())
	assert.False(t, cfg.Durable.WatchVersion)
	assert.Equal(t, EngineBadger, cfg.Flat.Engine)
	assert.Equal(t, 7*24*time.Hour, cfg.Flat.EvictAfter)
	assert.Equal(t, 5, cfg.RetryPolicy().Attempts)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryPolicy().Backoff)

	// Untouched fields keep their defaults
	assert.Equal(t, int64(5<<20), cfg.Flat.MaxBytes)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "data_dri: /tmp\n"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dri")
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(path, true)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"REMINDR_DATA_DIR":       "/data",
		"REMINDR_TIMEOUT":        "750ms",
		"REMINDR_FLAT_ENGINE":    "badger",
		"REMINDR_FLAT_MAX_BYTES": "4096",
		"REMINDR_LOG_LEVEL":      "warn",
		"REMINDR_OWNER":          "bob",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, 750*time.Millisecond, cfg.Timeout)
	assert.Equal(t, EngineBadger, cfg.Flat.Engine)
	assert.Equal(t, int64(4096), cfg.Flat.MaxBytes)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "bob", cfg.Owner)
	assert.Equal(t, "/data/flat", cfg.FlatDir())
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"REMINDR_TIMEOUT":        "soon",
		"REMINDR_FLAT_MAX_BYTES": "lots",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMINDR_TIMEOUT")
	assert.Contains(t, err.Error(), "REMINDR_FLAT_MAX_BYTES")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"blank owner", func(c *Config) { c.Owner = " " }, "owner"},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, "timeout"},
		{"zero slow threshold", func(c *Config) { c.SlowThreshold = 0 }, "slow_threshold"},
		{"durable file with dir", func(c *Config) { c.Durable.File = "sub/remindr.db" }, "durable.file"},
		{"unknown engine", func(c *Config) { c.Flat.Engine = "redis" }, "flat.engine"},
		{"inverted quota bounds", func(c *Config) { c.Probe.QuotaMax = 10 }, "quota"},
		{"no attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefaultPath_UsesXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/remindr/config.yaml", DefaultPath())
}
