package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/remindr/internal/config"
	"github.com/roach88/remindr/internal/flat"
	"github.com/roach88/remindr/internal/memory"
	"github.com/roach88/remindr/internal/metrics"
	"github.com/roach88/remindr/internal/probe"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/selector"
	"github.com/roach88/remindr/internal/storage"
	"github.com/roach88/remindr/internal/store"
)

// setup loads the configuration and wires the selector. Nothing is opened
// until a command asks for a backend.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	path, required := o.ConfigPath, o.ConfigPath != ""
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	if err := cfg.ApplyEnv(o.getenv); err != nil {
		return WrapExitError(ExitCommandError, "read environment", err)
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.Owner != "" {
		cfg.Owner = o.Owner
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	o.cfg = cfg

	if o.Level != nil {
		level, _ := cfg.Level()
		if o.Verbose {
			level = min(level, slog.LevelDebug)
		}
		o.Level.Set(level)
	}
	if o.Clock == nil {
		o.Clock = reminder.SystemClock{}
	}
	if o.IDs == nil {
		o.IDs = reminder.UUIDv7Generator{}
	}

	// A private registry: the CLI exposes no endpoint, the collectors only
	// feed the --verbose call summary.
	o.recorder, err = metrics.NewRecorder(prometheus.NewRegistry(), 0)
	if err != nil {
		return err
	}
	o.selector = o.newSelector()
	return nil
}

func (o *RootOptions) newSelector() *selector.Selector {
	cfg, logger := o.cfg, o.logger()

	return selector.New(selector.Options{
		Prober: probe.New(probe.Options{
			Dir:        cfg.DataDir,
			OpenFlat:   func() (flat.KV, error) { return openCheckKV(cfg, logger) },
			QuotaStart: cfg.Probe.QuotaStart,
			QuotaMax:   cfg.Probe.QuotaMax,
			Timeout:    cfg.ConnectTimeout,
			Clock:      o.Clock,
			Logger:     logger,
		}),
		Durable: func() (storage.Backend, error) {
			return store.New(store.Options{
				Path:           cfg.DurablePath(),
				ConnectTimeout: cfg.ConnectTimeout,
				WatchVersion:   cfg.Durable.WatchVersion,
				Clock:          o.Clock,
				IDs:            o.IDs,
				Logger:         logger,
			}), nil
		},
		Flat: func() (storage.Backend, error) {
			kv, err := openKV(cfg, logger)
			if err != nil {
				return nil, err
			}
			return flat.New(flat.Options{
				KV:         kv,
				MaxBytes:   cfg.Flat.MaxBytes,
				EvictAfter: cfg.Flat.EvictAfter,
				Clock:      o.Clock,
				IDs:        o.IDs,
				Logger:     logger,
			}), nil
		},
		Ephemeral: func() (storage.Backend, error) {
			return memory.New(memory.Options{Clock: o.Clock, IDs: o.IDs}), nil
		},
		Recorder: o.recorder,
		Observe: metrics.Options{
			Timeout:       cfg.Timeout,
			SlowThreshold: cfg.SlowThreshold,
			Clock:         o.Clock,
			Logger:        logger,
		},
		Logger: logger,
	})
}

// openKV opens the configured flat engine.
func openKV(cfg config.Config, logger *slog.Logger) (flat.KV, error) {
	switch cfg.Flat.Engine {
	case config.EngineBadger:
		bc := flat.DefaultBadgerConfig(cfg.FlatDir())
		bc.Logger = logger
		return flat.OpenBadgerKV(bc)
	default:
		return flat.OpenFileKV(cfg.FlatDir())
	}
}

// openCheckKV opens the engine the availability check writes its throwaway
// values to. Badger gets a scratch database next to the real one, removed
// when the check closes it.
func openCheckKV(cfg config.Config, logger *slog.Logger) (flat.KV, error) {
	if cfg.Flat.Engine != config.EngineBadger {
		return openKV(cfg, logger)
	}
	bc := flat.ScratchBadgerConfig(cfg.DataDir)
	bc.Logger = logger
	return flat.OpenBadgerKV(bc)
}

// backend returns the owner's backend, selecting a tier on first use.
func (o *RootOptions) backend(ctx context.Context) (*metrics.Observed, error) {
	if o.selector == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	b, err := o.selector.Backend(ctx, o.cfg.Owner)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// retry runs a read-only call under the configured retry policy.
func retry[T any](ctx context.Context, o *RootOptions, fn func(context.Context) (T, error)) (T, error) {
	return storage.Retry(ctx, o.cfg.RetryPolicy(), fn)
}

// shutdown logs the call summary in verbose mode and closes every opened
// tier.
func (o *RootOptions) shutdown() error {
	if o.selector == nil {
		return nil
	}
	if o.Verbose && o.recorder != nil {
		for _, c := range o.recorder.Calls() {
			o.logger().Debug("storage call", "tier", c.Tier, "op", c.Op, "outcome", c.Outcome, "duration", c.Duration, "slow", c.Slow)
		}
	}
	err := o.selector.ClearCache()
	o.selector = nil
	return err
}
