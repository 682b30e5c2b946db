package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
)

// DefaultSlowThreshold flags calls taking longer than one second.
const DefaultSlowThreshold = time.Second

var _ storage.Backend = (*Observed)(nil)

// Options tunes an Observed backend.
type Options struct {
	// Timeout bounds every call. Zero means storage.DefaultTimeout; a
	// negative value disables the bound.
	Timeout time.Duration

	// SlowThreshold is the duration above which a call is flagged slow.
	// Zero means DefaultSlowThreshold.
	SlowThreshold time.Duration

	Clock  reminder.Clock
	Logger *slog.Logger
}

// Observed decorates a backend: every call is bounded by a timeout, timed,
// recorded and, when slow, logged. Results and errors pass through
// unchanged apart from timeouts.
type Observed struct {
	backend storage.Backend
	tier    string
	rec     *Recorder
	timeout time.Duration
	slow    time.Duration
	clock   reminder.Clock
	logger  *slog.Logger
}

// Wrap decorates b. rec may be shared by several decorators.
func Wrap(b storage.Backend, tier string, rec *Recorder, opts Options) *Observed {
	if opts.Timeout == 0 {
		opts.Timeout = storage.DefaultTimeout
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = DefaultSlowThreshold
	}
	if opts.Clock == nil {
		opts.Clock = reminder.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Observed{
		backend: b,
		tier:    tier,
		rec:     rec,
		timeout: opts.Timeout,
		slow:    opts.SlowThreshold,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
}

// Tier returns the name of the decorated tier.
func (o *Observed) Tier() string { return o.tier }

// Unwrap returns the decorated backend.
func (o *Observed) Unwrap() storage.Backend { return o.backend }

// observe runs fn under the timeout and records the call. Duration is wall
// time even when the injected clock is fake.
func observe[T any](ctx context.Context, o *Observed, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := storage.WithTimeout(ctx, op, o.timeout, fn)
	elapsed := time.Since(start)

	call := CallRecord{
		Tier:     o.tier,
		Op:       op,
		Outcome:  outcome(err),
		Duration: elapsed,
		Slow:     elapsed > o.slow,
		At:       o.clock.Now(),
	}
	if o.rec != nil {
		o.rec.Record(call)
	}
	if call.Slow {
		o.logger.Warn("slow storage call",
			"tier", o.tier,
			"op", op,
			"duration", elapsed,
			"threshold", o.slow,
			"outcome", call.Outcome)
	}
	return v, err
}

func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := storage.CodeOf(err); code != "" {
		return string(code)
	}
	return OutcomeUnknown
}

func (o *Observed) Initialize(ctx context.Context) error {
	_, err := observe(ctx, o, "initialize", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.backend.Initialize(ctx)
	})
	return err
}

func (o *Observed) Save(ctx context.Context, r reminder.Record) (reminder.Record, error) {
	return observe(ctx, o, "save", func(ctx context.Context) (reminder.Record, error) {
		return o.backend.Save(ctx, r)
	})
}

func (o *Observed) List(ctx context.Context, owner string, f query.Filter) ([]reminder.Record, error) {
	return observe(ctx, o, "list", func(ctx context.Context) ([]reminder.Record, error) {
		return o.backend.List(ctx, owner, f)
	})
}

func (o *Observed) GetByID(ctx context.Context, id string) (*reminder.Record, error) {
	return observe(ctx, o, "getById", func(ctx context.Context) (*reminder.Record, error) {
		return o.backend.GetByID(ctx, id)
	})
}

func (o *Observed) Update(ctx context.Context, id string, p reminder.Patch) (reminder.Record, error) {
	return observe(ctx, o, "update", func(ctx context.Context) (reminder.Record, error) {
		return o.backend.Update(ctx, id, p)
	})
}

func (o *Observed) Delete(ctx context.Context, id string) (bool, error) {
	return observe(ctx, o, "delete", func(ctx context.Context) (bool, error) {
		return o.backend.Delete(ctx, id)
	})
}

func (o *Observed) DeleteByStatus(ctx context.Context, owner string, st reminder.Status) (int, error) {
	return observe(ctx, o, "deleteByStatus", func(ctx context.Context) (int, error) {
		return o.backend.DeleteByStatus(ctx, owner, st)
	})
}

func (o *Observed) SavePreferences(ctx context.Context, p reminder.Preferences) (reminder.Preferences, error) {
	return observe(ctx, o, "savePreferences", func(ctx context.Context) (reminder.Preferences, error) {
		return o.backend.SavePreferences(ctx, p)
	})
}

func (o *Observed) GetPreferences(ctx context.Context, owner string) (*reminder.Preferences, error) {
	return observe(ctx, o, "getPreferences", func(ctx context.Context) (*reminder.Preferences, error) {
		return o.backend.GetPreferences(ctx, owner)
	})
}

func (o *Observed) SaveMetadata(ctx context.Context, key string, value any) (reminder.MetadataEntry, error) {
	return observe(ctx, o, "saveMetadata", func(ctx context.Context) (reminder.MetadataEntry, error) {
		return o.backend.SaveMetadata(ctx, key, value)
	})
}

func (o *Observed) GetMetadata(ctx context.Context, key string) (*reminder.MetadataEntry, error) {
	return observe(ctx, o, "getMetadata", func(ctx context.Context) (*reminder.MetadataEntry, error) {
		return o.backend.GetMetadata(ctx, key)
	})
}

func (o *Observed) Statistics(ctx context.Context, owner string) (query.Statistics, error) {
	return observe(ctx, o, "statistics", func(ctx context.Context) (query.Statistics, error) {
		return o.backend.Statistics(ctx, owner)
	})
}

func (o *Observed) ExportAll(ctx context.Context, owner string) (query.Envelope, error) {
	return observe(ctx, o, "exportAll", func(ctx context.Context) (query.Envelope, error) {
		return o.backend.ExportAll(ctx, owner)
	})
}

func (o *Observed) ImportAll(ctx context.Context, env query.Envelope, owner string) (int, error) {
	return observe(ctx, o, "importAll", func(ctx context.Context) (int, error) {
		return o.backend.ImportAll(ctx, env, owner)
	})
}

func (o *Observed) Clear(ctx context.Context, owner string) (int, error) {
	return observe(ctx, o, "clear", func(ctx context.Context) (int, error) {
		return o.backend.Clear(ctx, owner)
	})
}

func (o *Observed) Info(ctx context.Context) (storage.Info, error) {
	return observe(ctx, o, "info", func(ctx context.Context) (storage.Info, error) {
		return o.backend.Info(ctx)
	})
}

// HealthCheck reports unhealthy when the check itself does not finish in
// time.
func (o *Observed) HealthCheck(ctx context.Context) storage.HealthReport {
	report, err := observe(ctx, o, "healthCheck", func(ctx context.Context) (storage.HealthReport, error) {
		report := o.backend.HealthCheck(ctx)
		if !report.Healthy {
			return report, fmt.Errorf("health check failed: %s", report.Detail)
		}
		return report, nil
	})
	if err != nil && report.TierName == "" {
		return storage.HealthReport{
			TierName:  o.tier,
			Detail:    err.Error(),
			CheckedAt: reminder.Normalize(o.clock.Now()),
		}
	}
	return report
}

// Close is not timed.
func (o *Observed) Close() error {
	return o.backend.Close()
}
