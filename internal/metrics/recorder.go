package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCapacity is how many calls the ring keeps when none is configured.
const DefaultCapacity = 256

// Outcome label values. Failed calls are labelled with their storage error
// code instead.
const (
	OutcomeOK      = "ok"
	OutcomeUnknown = "error"
)

// CallRecord describes one observed contract call.
type CallRecord struct {
	Tier     string        `json:"tier"`
	Op       string        `json:"op"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Slow     bool          `json:"slow"`
	At       time.Time     `json:"at"`
}

// Recorder collects call observations into Prometheus collectors and a
// bounded in-memory ring for diagnostics.
//
// Thread Safety: Safe for concurrent use.
type Recorder struct {
	duration *prometheus.HistogramVec
	calls    *prometheus.CounterVec
	slow     *prometheus.CounterVec

	mu   sync.Mutex
	ring []CallRecord
	next int
	full bool
}

// NewRecorder creates a recorder keeping the last capacity calls and
// registers its collectors on reg. A nil reg skips registration. Collectors
// already registered on reg are reused, so several recorders can share one
// registry.
func NewRecorder(reg prometheus.Registerer, capacity int) (*Recorder, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	r := &Recorder{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "remindr",
			Subsystem: "storage",
			Name:      "call_duration_seconds",
			Help:      "Duration of storage contract calls.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"tier", "op", "outcome"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remindr",
			Subsystem: "storage",
			Name:      "calls_total",
			Help:      "Storage contract calls by outcome.",
		}, []string{"tier", "op", "outcome"}),
		slow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remindr",
			Subsystem: "storage",
			Name:      "slow_calls_total",
			Help:      "Storage contract calls slower than the slow threshold.",
		}, []string{"tier", "op"}),
		ring: make([]CallRecord, capacity),
	}

	if reg == nil {
		return r, nil
	}
	var err error
	if r.duration, err = register(reg, r.duration); err != nil {
		return nil, err
	}
	if r.calls, err = register(reg, r.calls); err != nil {
		return nil, err
	}
	if r.slow, err = register(reg, r.slow); err != nil {
		return nil, err
	}
	return r, nil
}

// register registers c, returning the collector already on reg when one
// with the same description exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register storage metrics: %w", err)
}

// Record stores one observation.
func (r *Recorder) Record(c CallRecord) {
	r.duration.WithLabelValues(c.Tier, c.Op, c.Outcome).Observe(c.Duration.Seconds())
	r.calls.WithLabelValues(c.Tier, c.Op, c.Outcome).Inc()
	if c.Slow {
		r.slow.WithLabelValues(c.Tier, c.Op).Inc()
	}

	r.mu.Lock()
	r.ring[r.next] = c
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Calls returns the retained calls, oldest first.
func (r *Recorder) Calls() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]CallRecord{}, r.ring[:r.next]...)
	}
	out := make([]CallRecord, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

// SlowCalls returns the retained calls flagged slow, oldest first.
func (r *Recorder) SlowCalls() []CallRecord {
	out := []CallRecord{}
	for _, c := range r.Calls() {
		if c.Slow {
			out = append(out, c)
		}
	}
	return out
}
