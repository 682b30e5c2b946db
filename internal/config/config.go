// Package config loads remindr settings from a YAML file and the
// environment.
//
// Precedence, lowest first: built-in defaults, the YAML file, REMINDR_*
// environment variables, command-line flags (applied by the CLI).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/remindr/internal/flat"
	"github.com/roach88/remindr/internal/probe"
	"github.com/roach88/remindr/internal/storage"
)

// Flat engines.
const (
	EngineFile   = "file"
	EngineBadger = "badger"
)

// DefaultOwner is used when neither config nor flags name an owner.
const DefaultOwner = "default"

// Config holds every tunable setting.
type Config struct {
	// DataDir holds the durable database and the flat tier's files.
	DataDir string `yaml:"data_dir"`

	// Owner scopes CLI operations.
	Owner string `yaml:"owner"`

	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SlowThreshold  time.Duration `yaml:"slow_threshold"`

	Durable DurableConfig `yaml:"durable"`
	Flat    FlatConfig    `yaml:"flat"`
	Probe   ProbeConfig   `yaml:"probe"`
	Retry   RetryConfig   `yaml:"retry"`

	LogLevel string `yaml:"log_level"`
}

// DurableConfig configures the SQLite tier.
type DurableConfig struct {
	File         string `yaml:"file"`
	WatchVersion bool   `yaml:"watch_version"`
}

// FlatConfig configures the key-value tier.
type FlatConfig struct {
	Engine     string        `yaml:"engine"`
	MaxBytes   int64         `yaml:"max_bytes"`
	EvictAfter time.Duration `yaml:"evict_after"`
}

// ProbeConfig bounds the flat quota estimate.
type ProbeConfig struct {
	QuotaStart int64 `yaml:"quota_start"`
	QuotaMax   int64 `yaml:"quota_max"`
}

// RetryConfig is the CLI's retry policy for read operations.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:        defaultDataDir(),
		Owner:          DefaultOwner,
		Timeout:        storage.DefaultTimeout,
		ConnectTimeout: storage.DefaultTimeout,
		SlowThreshold:  time.Second,
		Durable: DurableConfig{
			File:         "remindr.db",
			WatchVersion: true,
		},
		Flat: FlatConfig{
			Engine:     EngineFile,
			MaxBytes:   flat.DefaultMaxBytes,
			EvictAfter: flat.DefaultEvictAfter,
		},
		Probe: ProbeConfig{
			QuotaStart: probe.DefaultQuotaStart,
			QuotaMax:   probe.DefaultQuotaMax,
		},
		Retry: RetryConfig{
			Attempts: storage.DefaultRetryPolicy().Attempts,
			Backoff:  storage.DefaultRetryPolicy().Backoff,
		},
		LogLevel: "info",
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "remindr")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "remindr")
	}
	return ".remindr"
}

// DefaultPath returns $XDG_CONFIG_HOME/remindr/config.yaml, falling back to
// the platform config directory.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "remindr", "config.yaml")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "remindr", "config.yaml")
	}
	return ""
}

// Load reads path over the defaults. A missing file is not an error unless
// required is set. Unknown keys are rejected.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from REMINDR_* variables read with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error
	if v := getenv("REMINDR_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := getenv("REMINDR_OWNER"); v != "" {
		c.Owner = v
	}
	if v := getenv("REMINDR_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REMINDR_TIMEOUT: %w", err))
		}
		c.Timeout = d
	}
	if v := getenv("REMINDR_FLAT_ENGINE"); v != "" {
		c.Flat.Engine = v
	}
	if v := getenv("REMINDR_FLAT_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("REMINDR_FLAT_MAX_BYTES: %w", err))
		}
		c.Flat.MaxBytes = n
	}
	if v := getenv("REMINDR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if err := storage.ValidateOwner("config", c.Owner); err != nil {
		errs = append(errs, fmt.Errorf("owner: %w", err))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect_timeout must be positive"))
	}
	if c.SlowThreshold <= 0 {
		errs = append(errs, errors.New("slow_threshold must be positive"))
	}
	if c.Durable.File == "" || filepath.Base(c.Durable.File) != c.Durable.File {
		errs = append(errs, fmt.Errorf("durable.file %q must be a plain file name", c.Durable.File))
	}
	if c.Flat.Engine != EngineFile && c.Flat.Engine != EngineBadger {
		errs = append(errs, fmt.Errorf("flat.engine %q must be %q or %q", c.Flat.Engine, EngineFile, EngineBadger))
	}
	if c.Flat.EvictAfter <= 0 {
		errs = append(errs, errors.New("flat.evict_after must be positive"))
	}
	if c.Probe.QuotaStart <= 0 || c.Probe.QuotaMax < c.Probe.QuotaStart {
		errs = append(errs, errors.New("probe quota bounds must satisfy 0 < quota_start <= quota_max"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Retry.Backoff < 0 {
		errs = append(errs, errors.New("retry.backoff must not be negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// DurablePath is the database file inside DataDir.
func (c Config) DurablePath() string {
	return filepath.Join(c.DataDir, c.Durable.File)
}

// FlatDir is where the flat tier keeps its engine files.
func (c Config) FlatDir() string {
	return filepath.Join(c.DataDir, "flat")
}

// RetryPolicy converts the retry settings.
func (c Config) RetryPolicy() storage.RetryPolicy {
	return storage.RetryPolicy{Attempts: c.Retry.Attempts, Backoff: c.Retry.Backoff}
}
