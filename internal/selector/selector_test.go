package selector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/remindr/internal/flat"
	"github.com/roach88/remindr/internal/memory"
	"github.com/roach88/remindr/internal/metrics"
	"github.com/roach88/remindr/internal/probe"
	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/storage"
	"github.com/roach88/remindr/internal/store"
	"github.com/roach88/remindr/internal/testutil"
)

// fixture wires a selector over real tiers in a temp directory and counts
// how often each tier is opened.
type fixture struct {
	dir         string
	durableErr  error
	probeCalls  atomic.Int32
	durableOpen atomic.Int32
	flatOpen    atomic.Int32
	flatInitErr error
	recorder    *metrics.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec, err := metrics.NewRecorder(nil, 0)
	require.NoError(t, err)
	return &fixture{dir: t.TempDir(), recorder: rec}
}

func (f *fixture) selector(t *testing.T) *Selector {
	t.Helper()
	clock := testutil.NewFakeClock(testutil.Epoch)

	prober := probe.New(probe.Options{
		Durable: func(ctx context.Context) error {
			f.probeCalls.Add(1)
			if f.durableErr != nil {
				return f.durableErr
			}
			return store.Probe(ctx, f.dir, nil)
		},
		OpenFlat: func() (flat.KV, error) { return flat.OpenFileKV(filepath.Join(f.dir, "probe-kv")) },
		QuotaMax: 4096,
		Clock:    clock,
	})

	s := New(Options{
		Prober: prober,
		Durable: func() (storage.Backend, error) {
			f.durableOpen.Add(1)
			return store.New(store.Options{Path: filepath.Join(f.dir, "remindr.db"), Clock: clock}), nil
		},
		Flat: func() (storage.Backend, error) {
			f.flatOpen.Add(1)
			if f.flatInitErr != nil {
				return failingBackend{Backend: memory.New(memory.Options{}), err: f.flatInitErr}, nil
			}
			kv, err := flat.OpenFileKV(filepath.Join(f.dir, "flat"))
			if err != nil {
				return nil, err
			}
			return flat.New(flat.Options{KV: kv, Clock: clock}), nil
		},
		Recorder: f.recorder,
		Observe:  metrics.Options{Clock: clock},
	})
	t.Cleanup(func() { _ = s.ClearCache() })
	return s
}

// failingBackend fails Initialize.
type failingBackend struct {
	storage.Backend
	err error
}

func (f failingBackend) Initialize(context.Context) error { return f.err }

func tierOf(t *testing.T, b storage.Backend) string {
	t.Helper()
	info, err := b.Info(context.Background())
	require.NoError(t, err)
	return info.TierName
}

func TestBackend_PrefersDurable(t *testing.T) {
	f := newFixture(t)
	b, err := f.selector(t).Backend(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, storage.TierDurable, b.Tier())
	assert.Equal(t, storage.TierDurable, tierOf(t, b))
}

func TestBackend_BlockedDurableFallsThroughToFlat(t *testing.T) {
	f := newFixture(t)
	f.durableErr = errors.New("open database: blocked")
	s := f.selector(t)

	b, err := s.Backend(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, storage.TierFlat, tierOf(t, b))
	assert.Equal(t, int32(0), f.durableOpen.Load())

	report := s.Report(context.Background())
	assert.Equal(t, probe.ReasonRestricted, report.Capabilities.Durable.Reason)
}

func TestBackend_FlatInitFailureFallsThroughToEphemeral(t *testing.T) {
	f := newFixture(t)
	f.durableErr = probe.ErrAPIMissing
	f.flatInitErr = errors.New("flat engine broken")

	b, err := f.selector(t).Backend(context.Background(), "u1")
	require.NoError(t, err)

	info, err := b.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.TierEphemeral, info.TierName)
	assert.False(t, info.Persistent)
	assert.NotEmpty(t, info.Warning)
}

func TestBackend_NoTierInitializes(t *testing.T) {
	s := New(Options{
		Prober: probe.New(probe.Options{}),
		Ephemeral: func() (storage.Backend, error) {
			return failingBackend{Backend: memory.New(memory.Options{}), err: errors.New("out of memory")}, nil
		},
	})

	_, err := s.Backend(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, storage.IsStorageUnavailable(err))
	assert.ErrorIs(t, err, ErrNoTier)
}

func TestBackend_InvalidOwner(t *testing.T) {
	_, err := New(Options{}).Backend(context.Background(), "  ")
	assert.True(t, storage.IsValidation(err))
}

func TestBackend_CachedPerOwnerAndTierShared(t *testing.T) {
	f := newFixture(t)
	s := f.selector(t)
	ctx := context.Background()

	a1, err := s.Backend(ctx, "alice")
	require.NoError(t, err)
	a2, err := s.Backend(ctx, "alice")
	require.NoError(t, err)
	b1, err := s.Backend(ctx, "bob")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b1)
	assert.Same(t, a1.Unwrap(), b1.Unwrap())
	assert.Equal(t, int32(1), f.durableOpen.Load())
	assert.Equal(t, int32(1), f.probeCalls.Load())

	tier, ok := s.Selected("bob")
	assert.True(t, ok)
	assert.Equal(t, storage.TierDurable, tier)
	_, ok = s.Selected("carol")
	assert.False(t, ok)
}

func TestBackend_ConcurrentFirstRequests(t *testing.T) {
	f := newFixture(t)
	s := f.selector(t)

	results := make([]*metrics.Observed, 16)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := s.Backend(context.Background(), "u1")
			assert.NoError(t, err)
			results[i] = b
		}()
	}
	wg.Wait()

	for _, b := range results {
		assert.Same(t, results[0], b)
	}
	assert.Equal(t, int32(1), f.durableOpen.Load())
}

func TestBackend_NeverSwitchesAfterSelection(t *testing.T) {
	f := newFixture(t)
	s := f.selector(t)
	ctx := context.Background()

	b, err := s.Backend(ctx, "u1")
	require.NoError(t, err)

	// Break the chosen tier underneath the selector
	require.NoError(t, b.Unwrap().Close())

	_, err = b.List(ctx, "u1", query.Filter{})
	assert.True(t, storage.IsStorageUnavailable(err))

	again, err := s.Backend(ctx, "u1")
	require.NoError(t, err)
	assert.Same(t, b, again)
	assert.Equal(t, int32(1), f.durableOpen.Load())
}

func TestClearCache_ReprobesAndReopens(t *testing.T) {
	f := newFixture(t)
	s := f.selector(t)
	ctx := context.Background()

	first, err := s.Backend(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.ClearCache())

	_, ok := s.Selected("u1")
	assert.False(t, ok)

	// A closed tier rejects calls
	_, err = first.List(ctx, "u1", query.Filter{})
	assert.True(t, storage.IsStorageUnavailable(err))

	f.durableErr = errors.New("private mode")
	second, err := s.Backend(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, storage.TierFlat, second.Tier())
	assert.Equal(t, int32(2), f.probeCalls.Load())
}

func TestBackend_CallsAreRecorded(t *testing.T) {
	f := newFixture(t)
	b, err := f.selector(t).Backend(context.Background(), "u1")
	require.NoError(t, err)

	_, err = b.Save(context.Background(), testutil.NewRecord("u1", "Dentist"))
	require.NoError(t, err)

	calls := f.recorder.Calls()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, "save", last.Op)
	assert.Equal(t, storage.TierDurable, last.Tier)
	assert.Equal(t, metrics.OutcomeOK, last.Outcome)
}
