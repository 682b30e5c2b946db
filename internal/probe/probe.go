// Package probe actively tests which storage tiers work on this host.
//
// A tier is not trusted because its engine links or its directory exists:
// the prober opens it, writes, reads back and cleans up, and classifies any
// failure. Results are cached until Invalidate is called.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/remindr/internal/flat"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
	"github.com/roach88/remindr/internal/store"
)

// Sentinel errors a check can return to force a classification.
var (
	ErrAPIMissing = errors.New("storage engine not available")
	ErrRestricted = errors.New("storage restricted by environment")
)

// Quota estimate bounds.
const (
	DefaultQuotaStart int64 = 1 << 10
	DefaultQuotaMax   int64 = 10 << 20
)

// Keys the flat check writes. Both are removed afterwards.
const (
	sentinelKey = "remindr.probe.sentinel"
	quotaKey    = "remindr.probe.quota"
)

// Reason classifies why a tier is unavailable.
type Reason string

const (
	ReasonNone               Reason = "none"
	ReasonAPIMissing         Reason = "api-missing"
	ReasonRestricted         Reason = "restricted-mode"
	ReasonOperationalFailure Reason = "operational-failure"
)

// Capability is the probe result for one tier.
type Capability struct {
	Available bool   `json:"available"`
	Reason    Reason `json:"reason"`
	Detail    string `json:"detail,omitempty"`

	// QuotaEstimateBytes is the largest single write that succeeded during
	// the quota estimate. Advisory only.
	QuotaEstimateBytes int64 `json:"quotaEstimateBytes,omitempty"`
}

// Capabilities holds the per-tier results. The ephemeral tier is always
// available and is not probed.
type Capabilities struct {
	Durable Capability `json:"durable"`
	Flat    Capability `json:"flat"`
}

// Severity of a recommendation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Recommendation is a user-facing hint derived from the capabilities.
type Recommendation struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Action   string   `json:"action"`
}

// Report is the full probe result.
type Report struct {
	Timestamp       time.Time        `json:"timestamp"`
	Capabilities    Capabilities     `json:"capabilities"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Options configures a Prober.
type Options struct {
	// Durable checks the durable tier. When nil and Dir is set, store.Probe
	// runs in Dir; when both are unset the tier reports api-missing.
	Durable func(ctx context.Context) error
	Dir     string

	// OpenFlat opens a fresh engine for the flat check. The prober closes
	// it. Nil reports the tier as api-missing.
	OpenFlat func() (flat.KV, error)

	// QuotaStart and QuotaMax bound the quota estimate. Zero means the
	// defaults.
	QuotaStart int64
	QuotaMax   int64

	// Timeout bounds each tier check. Zero means storage.DefaultTimeout.
	Timeout time.Duration

	Clock  reminder.Clock
	Logger *slog.Logger
}

// Prober runs and caches capability probes.
//
// Thread Safety: Safe for concurrent use. Concurrent Run calls share one
// probe.
type Prober struct {
	opts Options

	mu     sync.Mutex
	cached *Report
}

// New creates a Prober.
func New(opts Options) *Prober {
	if opts.QuotaStart <= 0 {
		opts.QuotaStart = DefaultQuotaStart
	}
	if opts.QuotaMax <= 0 {
		opts.QuotaMax = DefaultQuotaMax
	}
	if opts.Timeout == 0 {
		opts.Timeout = storage.DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = reminder.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Durable == nil && opts.Dir != "" {
		dir, logger := opts.Dir, opts.Logger
		opts.Durable = func(ctx context.Context) error {
			return store.Probe(ctx, dir, logger)
		}
	}
	return &Prober{opts: opts}
}

// Run returns the cached report, probing first if there is none.
func (p *Prober) Run(ctx context.Context) Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == nil {
		r := p.probe(ctx)
		p.cached = &r
	}
	return p.cached.clone()
}

// Invalidate drops the cached report so the next Run probes again.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

func (p *Prober) probe(ctx context.Context) Report {
	caps := Capabilities{
		Durable: p.checkDurable(ctx),
		Flat:    p.checkFlat(ctx),
	}
	p.opts.Logger.Debug("storage capabilities probed",
		"durable", caps.Durable.Reason,
		"flat", caps.Flat.Reason,
		"flat_quota_estimate", caps.Flat.QuotaEstimateBytes)

	return Report{
		Timestamp:       reminder.Normalize(p.opts.Clock.Now()),
		Capabilities:    caps,
		Recommendations: Recommend(caps),
	}
}

func (p *Prober) checkDurable(ctx context.Context) Capability {
	if p.opts.Durable == nil {
		return unavailable(ErrAPIMissing)
	}
	_, err := storage.WithTimeout(ctx, "probe durable", p.opts.Timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.opts.Durable(ctx)
	})
	if err != nil {
		return unavailable(err)
	}
	return Capability{Available: true, Reason: ReasonNone}
}

func (p *Prober) checkFlat(ctx context.Context) Capability {
	if p.opts.OpenFlat == nil {
		return unavailable(ErrAPIMissing)
	}
	c, err := storage.WithTimeout(ctx, "probe flat", p.opts.Timeout, func(ctx context.Context) (Capability, error) {
		kv, err := p.opts.OpenFlat()
		if err != nil {
			return Capability{}, fmt.Errorf("open flat engine: %w", err)
		}
		defer func() {
			if err := kv.Close(); err != nil {
				p.opts.Logger.Warn("close flat probe engine", "error", err)
			}
		}()

		if err := p.roundTrip(kv); err != nil {
			return Capability{}, err
		}
		return Capability{
			Available:          true,
			Reason:             ReasonNone,
			QuotaEstimateBytes: p.estimateQuota(ctx, kv),
		}, nil
	})
	if err != nil {
		return unavailable(err)
	}
	return c
}

// roundTrip writes, reads back and deletes the sentinel key.
func (p *Prober) roundTrip(kv flat.KV) error {
	want := []byte("remindr-probe")
	if err := kv.Set(sentinelKey, want); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	got, err := kv.Get(sentinelKey)
	if err != nil {
		return fmt.Errorf("read sentinel: %w", err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("read sentinel: got %q, want %q", got, want)
	}
	if err := kv.Delete(sentinelKey); err != nil {
		return fmt.Errorf("delete sentinel: %w", err)
	}
	return nil
}

// estimateQuota writes payloads of doubling size, from QuotaStart up to
// QuotaMax, and returns the last size that was accepted (0 if none).
func (p *Prober) estimateQuota(ctx context.Context, kv flat.KV) int64 {
	defer func() {
		if err := kv.Delete(quotaKey); err != nil {
			p.opts.Logger.Warn("remove quota probe payload", "error", err)
		}
	}()

	var last int64
	for size := p.opts.QuotaStart; ctx.Err() == nil; size *= 2 {
		size = min(size, p.opts.QuotaMax)
		if err := kv.Set(quotaKey, make([]byte, size)); err != nil {
			p.opts.Logger.Debug("quota probe write rejected", "bytes", size, "error", err)
			break
		}
		last = size
		if size == p.opts.QuotaMax {
			break
		}
	}
	return last
}

func unavailable(err error) Capability {
	return Capability{Available: false, Reason: Classify(err), Detail: err.Error()}
}

var apiMissingSignatures = []string{
	"requires cgo",
	"unknown driver",
}

var restrictedSignatures = []string{
	"blocked",
	"restricted",
	"private mode",
	"read-only file system",
	"readonly database",
	"permission denied",
	"operation not permitted",
}

// Classify maps a probe failure to a Reason. A nil error is ReasonNone.
func Classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrAPIMissing):
		return ReasonAPIMissing
	case errors.Is(err, ErrRestricted):
		return ReasonRestricted
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range apiMissingSignatures {
		if strings.Contains(msg, sig) {
			return ReasonAPIMissing
		}
	}
	for _, sig := range restrictedSignatures {
		if strings.Contains(msg, sig) {
			return ReasonRestricted
		}
	}
	return ReasonOperationalFailure
}

func (r Report) clone() Report {
	r.Recommendations = append([]Recommendation{}, r.Recommendations...)
	return r
}
