// Package memory implements the ephemeral storage tier: process memory only,
// always available, lost on exit.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
)

var _ storage.Backend = (*Store)(nil)

var errNotInitialized = errors.New("ephemeral store not initialized")

// Options configures a Store.
type Options struct {
	Clock reminder.Clock
	IDs   reminder.IDGenerator
}

// Store keeps records in maps guarded by a mutex. Values are copied on the
// way in and out, so callers never share memory with the store.
//
// Preferences and metadata are held as encoded JSON, which makes every read
// an independent copy and gives them the same shape the persistent tiers
// return.
//
// Thread-safety: All methods are safe for concurrent use.
type Store struct {
	clock reminder.Clock
	ids   reminder.IDGenerator

	mu      sync.RWMutex
	open    bool
	records map[string]reminder.Record
	prefs   map[string][]byte
	meta    map[string][]byte
}

// New creates an uninitialized ephemeral store.
func New(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = reminder.SystemClock{}
	}
	if opts.IDs == nil {
		opts.IDs = reminder.UUIDv7Generator{}
	}
	return &Store{clock: opts.Clock, ids: opts.IDs}
}

// Initialize allocates the maps. Calling it again keeps existing data.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]reminder.Record)
		s.prefs = make(map[string][]byte)
		s.meta = make(map[string][]byte)
	}
	s.open = true
	return nil
}

// Close drops all data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.records, s.prefs, s.meta = nil, nil, nil
	return nil
}

func (s *Store) ready(op string) error {
	if !s.open {
		return storage.Unavailable(op, errNotInitialized)
	}
	return nil
}

// Save inserts or replaces a record.
func (s *Store) Save(ctx context.Context, r reminder.Record) (reminder.Record, error) {
	rec, err := storage.PrepareSave(r, s.ids, s.clock.Now())
	if err != nil {
		return reminder.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("save"); err != nil {
		return reminder.Record{}, err
	}
	if existing, ok := s.records[rec.ID]; ok {
		if rec, err = storage.KeepCreated(rec, existing); err != nil {
			return reminder.Record{}, err
		}
	}
	s.records[rec.ID] = rec.Clone()
	return rec, nil
}

// List returns the owner's records matching f.
func (s *Store) List(ctx context.Context, owner string, f query.Filter) ([]reminder.Record, error) {
	if err := storage.ValidateOwner("list", owner); err != nil {
		return nil, err
	}
	if err := storage.ValidateFilter("list", f); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("list"); err != nil {
		return nil, err
	}
	return query.Apply(s.ownedLocked(owner), f), nil
}

// ownedLocked returns copies of the owner's records after promoting overdue
// ones in place. Caller must hold the write lock.
func (s *Store) ownedLocked(owner string) []reminder.Record {
	now := s.clock.Now()
	out := make([]reminder.Record, 0)
	for id, r := range s.records {
		if r.Owner != owner {
			continue
		}
		if storage.PromoteOverdue(&r, now) {
			s.records[id] = r
		}
		out = append(out, r.Clone())
	}
	return out
}

// GetByID returns the record or nil.
func (s *Store) GetByID(ctx context.Context, id string) (*reminder.Record, error) {
	if err := storage.ValidateID("getById", id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("getById"); err != nil {
		return nil, err
	}
	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	if storage.PromoteOverdue(&r, s.clock.Now()) {
		s.records[id] = r
	}
	out := r.Clone()
	return &out, nil
}

// Update merges p into the stored record.
func (s *Store) Update(ctx context.Context, id string, p reminder.Patch) (reminder.Record, error) {
	if err := storage.ValidateID("update", id); err != nil {
		return reminder.Record{}, err
	}
	if err := storage.ValidatePatch(p); err != nil {
		return reminder.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("update"); err != nil {
		return reminder.Record{}, err
	}
	existing, ok := s.records[id]
	if !ok {
		return reminder.Record{}, storage.NewNotFoundError("update", id)
	}
	updated, err := storage.ApplyPatch(existing, p, s.clock.Now())
	if err != nil {
		return reminder.Record{}, err
	}
	s.records[id] = updated.Clone()
	return updated, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := storage.ValidateID("delete", id); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("delete"); err != nil {
		return false, err
	}
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

// DeleteByStatus removes the owner's records with status st.
func (s *Store) DeleteByStatus(ctx context.Context, owner string, st reminder.Status) (int, error) {
	if err := storage.ValidateOwner("deleteByStatus", owner); err != nil {
		return 0, err
	}
	if err := storage.ValidateStatus("deleteByStatus", st); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("deleteByStatus"); err != nil {
		return 0, err
	}
	now := s.clock.Now()
	n := 0
	for id, r := range s.records {
		if r.Owner != owner {
			continue
		}
		if storage.PromoteOverdue(&r, now) {
			s.records[id] = r
		}
		if r.Status == st {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// SavePreferences replaces the owner's preferences.
func (s *Store) SavePreferences(ctx context.Context, p reminder.Preferences) (reminder.Preferences, error) {
	prefs, err := storage.PreparePreferences(p, s.clock.Now())
	if err != nil {
		return reminder.Preferences{}, err
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return reminder.Preferences{}, fmt.Errorf("marshal preferences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("savePreferences"); err != nil {
		return reminder.Preferences{}, err
	}
	s.prefs[prefs.Owner] = data
	return prefs, nil
}

// GetPreferences returns the owner's preferences or nil.
func (s *Store) GetPreferences(ctx context.Context, owner string) (*reminder.Preferences, error) {
	if err := storage.ValidateOwner("getPreferences", owner); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready("getPreferences"); err != nil {
		return nil, err
	}
	data, ok := s.prefs[owner]
	if !ok {
		return nil, nil
	}
	var p reminder.Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, storage.Unavailable("getPreferences", err)
	}
	return &p, nil
}

// SaveMetadata replaces the entry under key.
func (s *Store) SaveMetadata(ctx context.Context, key string, value any) (reminder.MetadataEntry, error) {
	entry, err := storage.PrepareMetadata(key, value, s.clock.Now())
	if err != nil {
		return reminder.MetadataEntry{}, err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return reminder.MetadataEntry{}, fmt.Errorf("marshal metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("saveMetadata"); err != nil {
		return reminder.MetadataEntry{}, err
	}
	s.meta[key] = data
	return entry, nil
}

// GetMetadata returns the entry under key or nil.
func (s *Store) GetMetadata(ctx context.Context, key string) (*reminder.MetadataEntry, error) {
	if err := storage.ValidateMetadataKey("getMetadata", key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready("getMetadata"); err != nil {
		return nil, err
	}
	data, ok := s.meta[key]
	if !ok {
		return nil, nil
	}
	var m reminder.MetadataEntry
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, storage.Unavailable("getMetadata", err)
	}
	return &m, nil
}

// Statistics aggregates the owner's records.
func (s *Store) Statistics(ctx context.Context, owner string) (query.Statistics, error) {
	if err := storage.ValidateOwner("statistics", owner); err != nil {
		return query.Statistics{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("statistics"); err != nil {
		return query.Statistics{}, err
	}
	return query.Compute(s.ownedLocked(owner), s.clock.Now()), nil
}

// ExportAll snapshots the owner's data.
func (s *Store) ExportAll(ctx context.Context, owner string) (query.Envelope, error) {
	records, err := s.List(ctx, owner, query.Filter{SortBy: query.SortByCreatedAt})
	if err != nil {
		return query.Envelope{}, err
	}
	prefs, err := s.GetPreferences(ctx, owner)
	if err != nil {
		return query.Envelope{}, err
	}

	s.mu.RLock()
	meta := make([]reminder.MetadataEntry, 0, len(s.meta))
	for _, data := range s.meta {
		var m reminder.MetadataEntry
		if err := json.Unmarshal(data, &m); err != nil {
			s.mu.RUnlock()
			return query.Envelope{}, storage.Unavailable("exportAll", err)
		}
		meta = append(meta, m)
	}
	s.mu.RUnlock()
	slices.SortFunc(meta, func(a, b reminder.MetadataEntry) int {
		return strings.Compare(a.Key, b.Key)
	})

	return query.BuildEnvelope(storage.TierEphemeral, s.clock.Now(), records, prefs, meta), nil
}

// ImportAll validates env and stores its records under owner.
func (s *Store) ImportAll(ctx context.Context, env query.Envelope, owner string) (int, error) {
	imp, err := storage.PrepareImport(env, owner, s.ids, s.clock.Now())
	if err != nil {
		return 0, err
	}

	encoded := make(map[string][]byte, len(imp.Metadata))
	for _, m := range imp.Metadata {
		data, err := json.Marshal(m)
		if err != nil {
			return 0, fmt.Errorf("marshal metadata: %w", err)
		}
		encoded[m.Key] = data
	}
	var prefsData []byte
	if imp.Preferences != nil {
		if prefsData, err = json.Marshal(imp.Preferences); err != nil {
			return 0, fmt.Errorf("marshal preferences: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("importAll"); err != nil {
		return 0, err
	}
	for _, r := range imp.Records {
		s.records[r.ID] = r
	}
	if prefsData != nil {
		s.prefs[owner] = prefsData
	}
	for k, v := range encoded {
		s.meta[k] = v
	}
	return len(imp.Records), nil
}

// Clear removes the owner's records and preferences.
func (s *Store) Clear(ctx context.Context, owner string) (int, error) {
	if err := storage.ValidateOwner("clear", owner); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready("clear"); err != nil {
		return 0, err
	}
	n := 0
	for id, r := range s.records {
		if r.Owner == owner {
			delete(s.records, id)
			n++
		}
	}
	delete(s.prefs, owner)
	return n, nil
}

// Info reports the tier as non-persistent.
func (s *Store) Info(ctx context.Context) (storage.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready("info"); err != nil {
		return storage.Info{}, err
	}
	return storage.Info{
		TierName:    storage.TierEphemeral,
		Persistent:  false,
		Warning:     storage.NonPersistentWarning,
		Location:    "memory",
		RecordCount: len(s.records),
		SizeBytes:   -1,
		Features:    []string{},
	}, nil
}

// HealthCheck runs the shared round-trip check.
func (s *Store) HealthCheck(ctx context.Context) storage.HealthReport {
	return storage.CheckHealth(ctx, s, storage.TierEphemeral, s.clock.Now())
}
