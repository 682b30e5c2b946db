package flat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
)

// DocumentKey is the KV key holding the document.
const DocumentKey = "remindr.document"

// Defaults for Options.
const (
	DefaultMaxBytes   = 5 << 20
	DefaultEvictAfter = 30 * 24 * time.Hour
)

// maxRevisionRetries bounds how often a mutation restarts after another
// writer moved the revision.
const maxRevisionRetries = 3

// ErrConflict is returned when the document kept changing underneath a
// mutation.
var ErrConflict = errors.New("document changed concurrently")

var _ storage.Backend = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// KV is the engine the document is stored in. Required.
	KV KV

	// MaxBytes caps the encoded document size. Zero means DefaultMaxBytes;
	// negative disables the check and relies on the engine's own quota.
	MaxBytes int64

	// EvictAfter is how long a completed record must sit untouched before
	// it becomes eligible for eviction. Zero means DefaultEvictAfter.
	EvictAfter time.Duration

	Clock  reminder.Clock
	IDs    reminder.IDGenerator
	Logger *slog.Logger
}

// document is the single value stored under DocumentKey.
type document struct {
	Revision    uint64                            `json:"revision"`
	Records     map[string]reminder.Record        `json:"records"`
	Preferences map[string]reminder.Preferences   `json:"preferences"`
	Metadata    map[string]reminder.MetadataEntry `json:"metadata"`

	// size is the encoded length as loaded, 0 for a new document.
	size int
}

func newDocument() *document {
	return &document{
		Records:     make(map[string]reminder.Record),
		Preferences: make(map[string]reminder.Preferences),
		Metadata:    make(map[string]reminder.MetadataEntry),
	}
}

// Store is the flat tier backend.
//
// Thread-safety: All methods are safe for concurrent use within a process.
type Store struct {
	kv         KV
	maxBytes   int64
	evictAfter time.Duration
	clock      reminder.Clock
	ids        reminder.IDGenerator
	logger     *slog.Logger

	mu   sync.Mutex
	open bool
}

// New creates an uninitialized flat store over opts.KV.
func New(opts Options) *Store {
	if opts.MaxBytes == 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.EvictAfter == 0 {
		opts.EvictAfter = DefaultEvictAfter
	}
	if opts.Clock == nil {
		opts.Clock = reminder.SystemClock{}
	}
	if opts.IDs == nil {
		opts.IDs = reminder.UUIDv7Generator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		kv:         opts.KV,
		maxBytes:   opts.MaxBytes,
		evictAfter: opts.EvictAfter,
		clock:      opts.Clock,
		ids:        opts.IDs,
		logger:     opts.Logger.With("tier", storage.TierFlat),
	}
}

// Initialize checks that the engine is reachable and any existing document
// decodes.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv == nil {
		return storage.Unavailable("initialize", errors.New("no key-value engine configured"))
	}
	if _, err := s.loadLocked("initialize"); err != nil {
		return err
	}
	s.open = true
	return nil
}

// Close closes the engine.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	return s.kv.Close()
}

func (s *Store) loadLocked(op string) (*document, error) {
	data, err := s.kv.Get(DocumentKey)
	if errors.Is(err, ErrNotExist) {
		return newDocument(), nil
	}
	if err != nil {
		return nil, storage.Unavailable(op, err)
	}
	doc := newDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, storage.Unavailable(op, fmt.Errorf("decode document: %w", err))
	}
	doc.size = len(data)
	return doc, nil
}

// view loads the document for a read-only operation.
func (s *Store) view(op string) (*document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, storage.Unavailable(op, errors.New("flat store not initialized"))
	}
	return s.loadLocked(op)
}

// mutate runs fn against a fresh copy of the document and writes the result
// when fn reports a change. fn may run more than once if another writer
// moves the revision, so it must derive everything from the document it is
// given.
func (s *Store) mutate(op string, fn func(doc *document) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return storage.Unavailable(op, errors.New("flat store not initialized"))
	}

	for attempt := 0; ; attempt++ {
		doc, err := s.loadLocked(op)
		if err != nil {
			return err
		}
		base := doc.Revision

		changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}

		current, err := s.loadLocked(op)
		if err != nil {
			return err
		}
		if current.Revision != base {
			if attempt < maxRevisionRetries {
				s.logger.Debug("document revision moved, retrying",
					"op", op, "base", base, "current", current.Revision)
				continue
			}
			return storage.Unavailable(op, ErrConflict)
		}

		doc.Revision = base + 1
		return s.writeLocked(op, doc, current.size)
	}
}

// writeLocked encodes and stores doc, evicting old completed records while
// it does not fit. A write no larger than the stored encoding (stored) is
// never refused by the cap.
func (s *Store) writeLocked(op string, doc *document, stored int) error {
	var (
		evicted []string
		cause   error
	)
	for {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}

		if s.maxBytes < 0 || int64(len(data)) <= s.maxBytes || len(data) <= stored {
			err = s.kv.Set(DocumentKey, data)
			if err == nil {
				if len(evicted) > 0 {
					s.logger.Info("evicted completed records to fit quota",
						"op", op, "count", len(evicted), "ids", evicted, "bytes", len(data))
				}
				return nil
			}
			if !errors.Is(err, ErrQuota) {
				return storage.Unavailable(op, err)
			}
			cause = err
		}

		id, ok := s.evictionCandidate(doc)
		if !ok {
			return storage.NewQuotaError(op, int64(len(data)), s.maxBytes, cause)
		}
		delete(doc.Records, id)
		evicted = append(evicted, id)
	}
}

// evictionCandidate picks the completed record with the oldest UpdatedAt
// that has been untouched for longer than evictAfter.
func (s *Store) evictionCandidate(doc *document) (string, bool) {
	cutoff := s.clock.Now().Add(-s.evictAfter)

	var (
		best  reminder.Record
		found bool
	)
	for _, r := range doc.Records {
		if r.Status != reminder.StatusCompleted || !r.UpdatedAt.Before(cutoff) {
			continue
		}
		if !found || r.UpdatedAt.Before(best.UpdatedAt) || (r.UpdatedAt.Equal(best.UpdatedAt) && r.ID < best.ID) {
			best, found = r, true
		}
	}
	return best.ID, found
}

// owned returns the owner's records, persisting any overdue promotion. A
// promotion that cannot be written for lack of space is logged and the
// promoted view is still returned.
func (s *Store) owned(op, owner string) ([]reminder.Record, error) {
	var out []reminder.Record
	err := s.mutate(op, func(doc *document) (bool, error) {
		now := s.clock.Now()
		out = make([]reminder.Record, 0)
		changed := false
		for id, r := range doc.Records {
			if r.Owner != owner {
				continue
			}
			if storage.PromoteOverdue(&r, now) {
				doc.Records[id] = r
				changed = true
			}
			out = append(out, r)
		}
		return changed, nil
	})
	if storage.IsQuotaExceeded(err) {
		s.logger.Warn("overdue promotion not persisted", "op", op, "owner", owner, "error", err)
		return out, nil
	}
	return out, err
}

// Save inserts or replaces a record.
func (s *Store) Save(ctx context.Context, r reminder.Record) (reminder.Record, error) {
	prepared, err := storage.PrepareSave(r, s.ids, s.clock.Now())
	if err != nil {
		return reminder.Record{}, err
	}

	var saved reminder.Record
	err = s.mutate("save", func(doc *document) (bool, error) {
		saved = prepared
		if existing, ok := doc.Records[saved.ID]; ok {
			var err error
			if saved, err = storage.KeepCreated(saved, existing); err != nil {
				return false, err
			}
		}
		doc.Records[saved.ID] = saved
		return true, nil
	})
	if err != nil {
		return reminder.Record{}, err
	}
	return saved, nil
}

// List returns the owner's records matching f.
func (s *Store) List(ctx context.Context, owner string, f query.Filter) ([]reminder.Record, error) {
	if err := storage.ValidateOwner("list", owner); err != nil {
		return nil, err
	}
	if err := storage.ValidateFilter("list", f); err != nil {
		return nil, err
	}
	records, err := s.owned("list", owner)
	if err != nil {
		return nil, err
	}
	return query.Apply(records, f), nil
}

// GetByID returns the record or nil.
func (s *Store) GetByID(ctx context.Context, id string) (*reminder.Record, error) {
	if err := storage.ValidateID("getById", id); err != nil {
		return nil, err
	}

	var found *reminder.Record
	err := s.mutate("getById", func(doc *document) (bool, error) {
		found = nil
		r, ok := doc.Records[id]
		if !ok {
			return false, nil
		}
		changed := storage.PromoteOverdue(&r, s.clock.Now())
		if changed {
			doc.Records[id] = r
		}
		found = &r
		return changed, nil
	})
	if storage.IsQuotaExceeded(err) {
		s.logger.Warn("overdue promotion not persisted", "op", "getById", "id", id, "error", err)
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Update merges p into the stored record.
func (s *Store) Update(ctx context.Context, id string, p reminder.Patch) (reminder.Record, error) {
	if err := storage.ValidateID("update", id); err != nil {
		return reminder.Record{}, err
	}
	if err := storage.ValidatePatch(p); err != nil {
		return reminder.Record{}, err
	}

	var updated reminder.Record
	err := s.mutate("update", func(doc *document) (bool, error) {
		existing, ok := doc.Records[id]
		if !ok {
			return false, storage.NewNotFoundError("update", id)
		}
		var err error
		if updated, err = storage.ApplyPatch(existing, p, s.clock.Now()); err != nil {
			return false, err
		}
		doc.Records[id] = updated
		return true, nil
	})
	if err != nil {
		return reminder.Record{}, err
	}
	return updated, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := storage.ValidateID("delete", id); err != nil {
		return false, err
	}

	var existed bool
	err := s.mutate("delete", func(doc *document) (bool, error) {
		_, existed = doc.Records[id]
		delete(doc.Records, id)
		return existed, nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// DeleteByStatus removes the owner's records with status st.
func (s *Store) DeleteByStatus(ctx context.Context, owner string, st reminder.Status) (int, error) {
	if err := storage.ValidateOwner("deleteByStatus", owner); err != nil {
		return 0, err
	}
	if err := storage.ValidateStatus("deleteByStatus", st); err != nil {
		return 0, err
	}

	var n int
	err := s.mutate("deleteByStatus", func(doc *document) (bool, error) {
		n = 0
		now := s.clock.Now()
		promoted := false
		for id, r := range doc.Records {
			if r.Owner != owner {
				continue
			}
			if storage.PromoteOverdue(&r, now) {
				doc.Records[id] = r
				promoted = true
			}
			if r.Status == st {
				delete(doc.Records, id)
				n++
			}
		}
		return n > 0 || promoted, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SavePreferences replaces the owner's preferences.
func (s *Store) SavePreferences(ctx context.Context, p reminder.Preferences) (reminder.Preferences, error) {
	prefs, err := storage.PreparePreferences(p, s.clock.Now())
	if err != nil {
		return reminder.Preferences{}, err
	}
	err = s.mutate("savePreferences", func(doc *document) (bool, error) {
		doc.Preferences[prefs.Owner] = prefs
		return true, nil
	})
	if err != nil {
		return reminder.Preferences{}, err
	}
	return prefs, nil
}

// GetPreferences returns the owner's preferences or nil.
func (s *Store) GetPreferences(ctx context.Context, owner string) (*reminder.Preferences, error) {
	if err := storage.ValidateOwner("getPreferences", owner); err != nil {
		return nil, err
	}
	doc, err := s.view("getPreferences")
	if err != nil {
		return nil, err
	}
	p, ok := doc.Preferences[owner]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// SaveMetadata replaces the entry under key.
func (s *Store) SaveMetadata(ctx context.Context, key string, value any) (reminder.MetadataEntry, error) {
	entry, err := storage.PrepareMetadata(key, value, s.clock.Now())
	if err != nil {
		return reminder.MetadataEntry{}, err
	}
	err = s.mutate("saveMetadata", func(doc *document) (bool, error) {
		doc.Metadata[key] = entry
		return true, nil
	})
	if err != nil {
		return reminder.MetadataEntry{}, err
	}
	return entry, nil
}

// GetMetadata returns the entry under key or nil.
func (s *Store) GetMetadata(ctx context.Context, key string) (*reminder.MetadataEntry, error) {
	if err := storage.ValidateMetadataKey("getMetadata", key); err != nil {
		return nil, err
	}
	doc, err := s.view("getMetadata")
	if err != nil {
		return nil, err
	}
	m, ok := doc.Metadata[key]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// Statistics aggregates the owner's records.
func (s *Store) Statistics(ctx context.Context, owner string) (query.Statistics, error) {
	if err := storage.ValidateOwner("statistics", owner); err != nil {
		return query.Statistics{}, err
	}
	records, err := s.owned("statistics", owner)
	if err != nil {
		return query.Statistics{}, err
	}
	return query.Compute(records, s.clock.Now()), nil
}

// ExportAll snapshots the owner's data.
func (s *Store) ExportAll(ctx context.Context, owner string) (query.Envelope, error) {
	records, err := s.List(ctx, owner, query.Filter{SortBy: query.SortByCreatedAt})
	if err != nil {
		return query.Envelope{}, err
	}
	doc, err := s.view("exportAll")
	if err != nil {
		return query.Envelope{}, err
	}

	var prefs *reminder.Preferences
	if p, ok := doc.Preferences[owner]; ok {
		prefs = &p
	}
	meta := make([]reminder.MetadataEntry, 0, len(doc.Metadata))
	for _, m := range doc.Metadata {
		meta = append(meta, m)
	}
	slices.SortFunc(meta, func(a, b reminder.MetadataEntry) int {
		return strings.Compare(a.Key, b.Key)
	})

	return query.BuildEnvelope(storage.TierFlat, s.clock.Now(), records, prefs, meta), nil
}

// ImportAll validates env and stores its records under owner in one write.
func (s *Store) ImportAll(ctx context.Context, env query.Envelope, owner string) (int, error) {
	imp, err := storage.PrepareImport(env, owner, s.ids, s.clock.Now())
	if err != nil {
		return 0, err
	}
	err = s.mutate("importAll", func(doc *document) (bool, error) {
		for _, r := range imp.Records {
			doc.Records[r.ID] = r
		}
		if imp.Preferences != nil {
			doc.Preferences[owner] = *imp.Preferences
		}
		for _, m := range imp.Metadata {
			doc.Metadata[m.Key] = m
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return len(imp.Records), nil
}

// Clear removes the owner's records and preferences.
func (s *Store) Clear(ctx context.Context, owner string) (int, error) {
	if err := storage.ValidateOwner("clear", owner); err != nil {
		return 0, err
	}

	var n int
	err := s.mutate("clear", func(doc *document) (bool, error) {
		n = 0
		for id, r := range doc.Records {
			if r.Owner == owner {
				delete(doc.Records, id)
				n++
			}
		}
		_, hadPrefs := doc.Preferences[owner]
		delete(doc.Preferences, owner)
		return n > 0 || hadPrefs, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Info describes the document and its quota.
func (s *Store) Info(ctx context.Context) (storage.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return storage.Info{}, storage.Unavailable("info", errors.New("flat store not initialized"))
	}

	var size int64
	data, err := s.kv.Get(DocumentKey)
	switch {
	case errors.Is(err, ErrNotExist):
	case err != nil:
		return storage.Info{}, storage.Unavailable("info", err)
	default:
		size = int64(len(data))
	}
	doc, err := s.loadLocked("info")
	if err != nil {
		return storage.Info{}, err
	}

	info := storage.Info{
		TierName:    storage.TierFlat,
		Persistent:  s.kv.Persistent(),
		Location:    s.kv.Location(),
		RecordCount: len(doc.Records),
		SizeBytes:   size,
		QuotaBytes:  max(s.maxBytes, 0),
		Features:    []string{storage.FeatureEviction, storage.FeatureRevisionCheck},
	}
	if info.Persistent {
		info.Features = append(info.Features, storage.FeaturePersistent)
	} else {
		info.Warning = storage.NonPersistentWarning
	}
	return info, nil
}

// HealthCheck runs the shared round-trip check.
func (s *Store) HealthCheck(ctx context.Context) storage.HealthReport {
	return storage.CheckHealth(ctx, s, storage.TierFlat, s.clock.Now())
}
