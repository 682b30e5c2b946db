package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/remindr/internal/flat"
	"github.com/roach88/remindr/internal/testutil"
)

// memKV is a flat.KV that rejects values above limit.
type memKV struct {
	mu        sync.Mutex
	data      map[string][]byte
	limit     int
	corrupt   bool
	deleteErr error
	closed    bool
}

func newMemKV(limit int) *memKV {
	return &memKV{data: map[string][]byte{}, limit: limit}
}

func (m *memKV) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, flat.ErrNotExist
	}
	if m.corrupt {
		return []byte("garbage"), nil
	}
	return v, nil
}

func (m *memKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && len(value) > m.limit {
		return fmt.Errorf("set %s: %w", key, flat.ErrQuota)
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil && key == quotaKey {
		return m.deleteErr
	}
	delete(m.data, key)
	return nil
}

func (m *memKV) Location() string { return "test" }
func (m *memKV) Persistent() bool { return true }

func (m *memKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func okDurable(context.Context) error { return nil }

func newProber(durable func(context.Context) error, kv *memKV) *Prober {
	return New(Options{
		Durable:    durable,
		OpenFlat:   func() (flat.KV, error) { return kv, nil },
		QuotaStart: 1024,
		QuotaMax:   16 * 1024,
		Clock:      testutil.NewFakeClock(testutil.Epoch),
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"nil", nil, ReasonNone},
		{"api missing sentinel", fmt.Errorf("open: %w", ErrAPIMissing), ReasonAPIMissing},
		{"cgo stub", errors.New("Binary was compiled with 'CGO_ENABLED=0', go-sqlite3 requires cgo to work"), ReasonAPIMissing},
		{"unknown driver", errors.New(`sql: unknown driver "sqlite3" (forgotten import?)`), ReasonAPIMissing},
		{"restricted sentinel", ErrRestricted, ReasonRestricted},
		{"blocked", errors.New("open database: access Blocked by policy"), ReasonRestricted},
		{"read-only fs", errors.New("create probe directory: mkdir /x: read-only file system"), ReasonRestricted},
		{"readonly db", errors.New("attempt to write a readonly database"), ReasonRestricted},
		{"permission", errors.New("open /data/x.db: permission denied"), ReasonRestricted},
		{"other", errors.New("disk I/O error"), ReasonOperationalFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRun_AllAvailable(t *testing.T) {
	kv := newMemKV(0)
	report := newProber(okDurable, kv).Run(context.Background())

	assert.Equal(t, testutil.Epoch, report.Timestamp)
	assert.Equal(t, Capability{Available: true, Reason: ReasonNone}, report.Capabilities.Durable)
	assert.True(t, report.Capabilities.Flat.Available)
	assert.Equal(t, int64(16*1024), report.Capabilities.Flat.QuotaEstimateBytes)

	// The test cap is far below LowQuotaBytes
	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0].Message, "16384 bytes")
}

func TestRun_DurableBlocked(t *testing.T) {
	blocked := func(context.Context) error { return errors.New("open database: blocked") }
	report := newProber(blocked, newMemKV(0)).Run(context.Background())

	d := report.Capabilities.Durable
	assert.False(t, d.Available)
	assert.Equal(t, ReasonRestricted, d.Reason)
	assert.Contains(t, d.Detail, "blocked")
	assert.True(t, report.Capabilities.Flat.Available)
}

func TestRun_DefaultDurableCheckUsesDir(t *testing.T) {
	p := New(Options{Dir: t.TempDir(), OpenFlat: func() (flat.KV, error) { return newMemKV(0), nil }, QuotaMax: 4096})
	report := p.Run(context.Background())
	assert.True(t, report.Capabilities.Durable.Available, report.Capabilities.Durable.Detail)
}

func TestRun_RepeatedFlatChecksLeaveNoBadgerData(t *testing.T) {
	parent := t.TempDir()
	p := New(Options{
		Durable: okDurable,
		OpenFlat: func() (flat.KV, error) {
			return flat.OpenBadgerKV(flat.ScratchBadgerConfig(parent))
		},
		QuotaStart: 64 * 1024,
		QuotaMax:   1 << 20,
	})

	for range 3 {
		report := p.Run(context.Background())
		require.True(t, report.Capabilities.Flat.Available, report.Capabilities.Flat.Detail)
		assert.Equal(t, int64(1<<20), report.Capabilities.Flat.QuotaEstimateBytes)
		p.Invalidate()
	}

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_NoChecksConfigured(t *testing.T) {
	report := New(Options{}).Run(context.Background())

	assert.Equal(t, ReasonAPIMissing, report.Capabilities.Durable.Reason)
	assert.Equal(t, ReasonAPIMissing, report.Capabilities.Flat.Reason)
	require.NotEmpty(t, report.Recommendations)
	assert.Equal(t, SeverityCritical, report.Recommendations[0].Severity)
}

func TestRun_QuotaEstimateStopsAtFirstRejection(t *testing.T) {
	kv := newMemKV(5000)
	report := newProber(okDurable, kv).Run(context.Background())

	assert.Equal(t, int64(4096), report.Capabilities.Flat.QuotaEstimateBytes)
}

func TestRun_QuotaEstimateClampsToMax(t *testing.T) {
	kv := newMemKV(0)
	p := New(Options{
		Durable:    okDurable,
		OpenFlat:   func() (flat.KV, error) { return kv, nil },
		QuotaStart: 1000,
		QuotaMax:   3000,
	})

	assert.Equal(t, int64(3000), p.Run(context.Background()).Capabilities.Flat.QuotaEstimateBytes)
}

func TestRun_FlatCleansUp(t *testing.T) {
	kv := newMemKV(0)
	newProber(okDurable, kv).Run(context.Background())

	assert.Empty(t, kv.data)
	assert.True(t, kv.closed)
}

func TestRun_FlatCleanupFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	kv := newMemKV(0)
	kv.deleteErr = errors.New("device busy")

	p := New(Options{
		Durable:  okDurable,
		OpenFlat: func() (flat.KV, error) { return kv, nil },
		QuotaMax: 2048,
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	})
	report := p.Run(context.Background())

	assert.True(t, report.Capabilities.Flat.Available)
	assert.Contains(t, logs.String(), "remove quota probe payload")
}

func TestRun_FlatRoundTripMismatch(t *testing.T) {
	kv := newMemKV(0)
	kv.corrupt = true
	report := newProber(okDurable, kv).Run(context.Background())

	f := report.Capabilities.Flat
	assert.False(t, f.Available)
	assert.Equal(t, ReasonOperationalFailure, f.Reason)
	assert.Contains(t, f.Detail, "read sentinel")
}

func TestRun_FlatOpenFails(t *testing.T) {
	p := New(Options{
		Durable:  okDurable,
		OpenFlat: func() (flat.KV, error) { return nil, errors.New("mkdir /data: permission denied") },
	})
	f := p.Run(context.Background()).Capabilities.Flat

	assert.False(t, f.Available)
	assert.Equal(t, ReasonRestricted, f.Reason)
}

func TestRun_CachedUntilInvalidated(t *testing.T) {
	var calls atomic.Int32
	durable := func(context.Context) error {
		calls.Add(1)
		return nil
	}
	p := newProber(durable, newMemKV(0))

	p.Run(context.Background())
	p.Run(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	p.Invalidate()
	p.Run(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRun_ConcurrentCallersShareOneProbe(t *testing.T) {
	var calls atomic.Int32
	durable := func(context.Context) error {
		calls.Add(1)
		return nil
	}
	p := newProber(durable, newMemKV(0))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestRecommend(t *testing.T) {
	ok := Capability{Available: true, Reason: ReasonNone}

	t.Run("durable restricted", func(t *testing.T) {
		recs := Recommend(Capabilities{
			Durable: Capability{Reason: ReasonRestricted},
			Flat:    ok,
		})
		require.Len(t, recs, 2)
		assert.Equal(t, SeverityWarning, recs[0].Severity)
		assert.Contains(t, recs[0].Message, "restricted-mode")
		assert.Contains(t, recs[1].Message, "restricted")
	})

	t.Run("api missing", func(t *testing.T) {
		recs := Recommend(Capabilities{Durable: Capability{Reason: ReasonAPIMissing}, Flat: ok})
		require.Len(t, recs, 2)
		assert.Equal(t, SeverityInfo, recs[1].Severity)
	})

	t.Run("low flat quota", func(t *testing.T) {
		recs := Recommend(Capabilities{Durable: ok, Flat: Capability{Available: true, QuotaEstimateBytes: 2048}})
		require.Len(t, recs, 1)
		assert.Contains(t, recs[0].Message, "2048 bytes")
	})

	t.Run("healthy", func(t *testing.T) {
		assert.Empty(t, Recommend(Capabilities{Durable: ok, Flat: ok}))
	})
}
