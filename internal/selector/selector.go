// Package selector picks the storage tier for each owner.
//
// Tiers are tried strictly in order durable, flat, ephemeral. A tier is used
// when the capability probe reports it available and its Initialize
// succeeds. The choice is cached per owner and never revisited: later
// failures of the chosen tier surface to the caller as errors. Each tier is
// opened at most once and shared by every owner that selects it.
package selector

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/remindr/internal/memory"
	"github.com/roach88/remindr/internal/metrics"
	"github.com/roach88/remindr/internal/probe"
	"github.com/roach88/remindr/internal/storage"
)

// ErrNoTier is returned when every tier failed to initialize.
var ErrNoTier = errors.New("no storage tier available")

// Opener builds an uninitialized backend for one tier.
type Opener func() (storage.Backend, error)

// Options configures a Selector.
type Options struct {
	// Prober supplies capabilities. Nil probes nothing, which leaves only
	// the ephemeral tier.
	Prober *probe.Prober

	// Durable and Flat build their tiers. A nil opener skips the tier.
	Durable Opener
	Flat    Opener

	// Ephemeral builds the last-resort tier. Nil means memory.New.
	Ephemeral Opener

	// Recorder receives call observations from every returned backend.
	Recorder *metrics.Recorder
	Observe  metrics.Options

	Logger *slog.Logger
}

// Selector is the explicit registry of selected backends.
//
// Thread Safety: Safe for concurrent use. Concurrent first requests for one
// owner share a single selection.
type Selector struct {
	opts  Options
	group singleflight.Group

	// openMu serializes opening tiers so a tier is never opened twice.
	openMu sync.Mutex

	mu     sync.Mutex
	tiers  map[string]storage.Backend
	owners map[string]*metrics.Observed
}

// New creates a Selector.
func New(opts Options) *Selector {
	if opts.Prober == nil {
		opts.Prober = probe.New(probe.Options{Logger: opts.Logger})
	}
	if opts.Ephemeral == nil {
		opts.Ephemeral = func() (storage.Backend, error) {
			return memory.New(memory.Options{Clock: opts.Observe.Clock}), nil
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observe.Logger == nil {
		opts.Observe.Logger = opts.Logger
	}
	return &Selector{
		opts:   opts,
		tiers:  make(map[string]storage.Backend),
		owners: make(map[string]*metrics.Observed),
	}
}

// Backend returns the observed backend for owner, selecting a tier on the
// first request.
func (s *Selector) Backend(ctx context.Context, owner string) (*metrics.Observed, error) {
	if err := storage.ValidateOwner("selectBackend", owner); err != nil {
		return nil, err
	}
	if o, ok := s.cached(owner); ok {
		return o, nil
	}

	v, err, _ := s.group.Do(owner, func() (any, error) {
		if o, ok := s.cached(owner); ok {
			return o, nil
		}
		tier, b, err := s.selectTier(ctx)
		if err != nil {
			return nil, err
		}

		o := metrics.Wrap(b, tier, s.opts.Recorder, s.opts.Observe)
		s.mu.Lock()
		s.owners[owner] = o
		s.mu.Unlock()

		s.opts.Logger.Info("selected storage tier", "owner", owner, "tier", tier)
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*metrics.Observed), nil
}

// Selected reports the tier chosen for owner, if any.
func (s *Selector) Selected(owner string) (string, bool) {
	o, ok := s.cached(owner)
	if !ok {
		return "", false
	}
	return o.Tier(), true
}

// Report returns the capability report, probing if needed.
func (s *Selector) Report(ctx context.Context) probe.Report {
	return s.opts.Prober.Run(ctx)
}

// ClearCache closes every opened tier, forgets all selections and
// invalidates the probe. The next Backend call starts over.
func (s *Selector) ClearCache() error {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for tier, b := range s.tiers {
		if err := b.Close(); err != nil {
			errs = append(errs, storage.Unavailable("clearCache", err))
			s.opts.Logger.Warn("close storage tier", "tier", tier, "error", err)
		}
	}
	clear(s.tiers)
	clear(s.owners)
	s.opts.Prober.Invalidate()
	return errors.Join(errs...)
}

func (s *Selector) cached(owner string) (*metrics.Observed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owners[owner]
	return o, ok
}

type candidate struct {
	tier string
	cap  *probe.Capability
	open Opener
}

// selectTier returns the first tier that probes available and initializes.
func (s *Selector) selectTier(ctx context.Context) (string, storage.Backend, error) {
	report := s.opts.Prober.Run(ctx)

	candidates := []candidate{
		{storage.TierDurable, &report.Capabilities.Durable, s.opts.Durable},
		{storage.TierFlat, &report.Capabilities.Flat, s.opts.Flat},
		{storage.TierEphemeral, nil, s.opts.Ephemeral},
	}

	var errs []error
	for _, c := range candidates {
		if c.open == nil {
			continue
		}
		if c.cap != nil && !c.cap.Available {
			s.opts.Logger.Debug("skipping storage tier", "tier", c.tier, "reason", c.cap.Reason, "detail", c.cap.Detail)
			continue
		}
		b, err := s.instance(ctx, c.tier, c.open)
		if err != nil {
			s.opts.Logger.Warn("storage tier failed to initialize", "tier", c.tier, "error", err)
			errs = append(errs, err)
			continue
		}
		return c.tier, b, nil
	}
	return "", nil, storage.Unavailable("selectBackend", errors.Join(append([]error{ErrNoTier}, errs...)...))
}

// instance returns the shared backend for tier, opening and initializing
// it on first use.
func (s *Selector) instance(ctx context.Context, tier string, open Opener) (storage.Backend, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	b, ok := s.tiers[tier]
	s.mu.Unlock()
	if ok {
		return b, nil
	}

	b, err := open()
	if err != nil {
		return nil, err
	}
	if err := b.Initialize(ctx); err != nil {
		if cerr := b.Close(); cerr != nil {
			s.opts.Logger.Debug("close failed tier", "tier", tier, "error", cerr)
		}
		return nil, err
	}

	s.mu.Lock()
	s.tiers[tier] = b
	s.mu.Unlock()
	return b, nil
}
