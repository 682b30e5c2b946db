package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
)

// List returns the owner's records matching f. The SQL reads through the
// index chosen by chooseIndex; query.Apply does the rest.
func (s *Store) List(ctx context.Context, owner string, f query.Filter) ([]reminder.Record, error) {
	if err := storage.ValidateOwner("list", owner); err != nil {
		return nil, err
	}
	if err := storage.ValidateFilter("list", f); err != nil {
		return nil, err
	}

	records, err := s.listOwned(ctx, "list", owner, f)
	if err != nil {
		return nil, err
	}
	return query.Apply(records, f), nil
}

// listOwned promotes overdue records and selects the candidates for f in
// one transaction.
func (s *Store) listOwned(ctx context.Context, op, owner string, f query.Filter) ([]reminder.Record, error) {
	stmt, params := compileList(owner, f)

	var records []reminder.Record
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		if err := promoteOverdue(ctx, tx, s.clock.Now(), "owner = ?", owner); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, stmt, params...)
		if err != nil {
			return fmt.Errorf("query records: %w", err)
		}
		records, err = scanRecords(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetByID returns the record or nil.
func (s *Store) GetByID(ctx context.Context, id string) (*reminder.Record, error) {
	if err := storage.ValidateID("getById", id); err != nil {
		return nil, err
	}

	var found *reminder.Record
	err := s.inTx(ctx, "getById", func(tx *sql.Tx) error {
		if err := promoteOverdue(ctx, tx, s.clock.Now(), "id = ?", id); err != nil {
			return err
		}
		var err error
		found, err = readRecord(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// GetPreferences returns the owner's preferences or nil.
func (s *Store) GetPreferences(ctx context.Context, owner string) (*reminder.Preferences, error) {
	if err := storage.ValidateOwner("getPreferences", owner); err != nil {
		return nil, err
	}
	var (
		settings string
		updated  int64
	)
	err := s.withConn(ctx, "getPreferences", func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT settings, updated_at FROM preferences WHERE owner = ?`, owner).
			Scan(&settings, &updated)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("getPreferences", fmt.Errorf("read preferences: %w", err))
	}

	p := reminder.Preferences{Owner: owner, Settings: map[string]any{}, UpdatedAt: fromMillis(updated)}
	if err := json.Unmarshal([]byte(settings), &p.Settings); err != nil {
		return nil, storage.Unavailable("getPreferences", fmt.Errorf("unmarshal settings: %w", err))
	}
	if p.Settings == nil {
		p.Settings = map[string]any{}
	}
	return &p, nil
}

// GetMetadata returns the entry under key or nil.
func (s *Store) GetMetadata(ctx context.Context, key string) (*reminder.MetadataEntry, error) {
	if err := storage.ValidateMetadataKey("getMetadata", key); err != nil {
		return nil, err
	}
	var m reminder.MetadataEntry
	err := s.withConn(ctx, "getMetadata", func(db *sql.DB) (err error) {
		m, err = scanMetadata(db.QueryRowContext(ctx, `SELECT key, value, timestamp FROM metadata WHERE key = ?`, key))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("getMetadata", err)
	}
	return &m, nil
}

func scanMetadata(row scanner) (reminder.MetadataEntry, error) {
	var (
		m     reminder.MetadataEntry
		value string
		ts    int64
	)
	if err := row.Scan(&m.Key, &value, &ts); err != nil {
		return reminder.MetadataEntry{}, err
	}
	if err := json.Unmarshal([]byte(value), &m.Value); err != nil {
		return reminder.MetadataEntry{}, fmt.Errorf("unmarshal metadata %s: %w", m.Key, err)
	}
	m.Timestamp = fromMillis(ts)
	return m, nil
}

// allMetadata returns every metadata entry ordered by key.
func (s *Store) allMetadata(ctx context.Context) ([]reminder.MetadataEntry, error) {
	db, err := s.conn(ctx, "exportAll")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT key, value, timestamp FROM metadata ORDER BY key COLLATE BINARY ASC`)
	if err != nil {
		return nil, storage.Unavailable("exportAll", fmt.Errorf("query metadata: %w", err))
	}
	defer rows.Close()

	entries := []reminder.MetadataEntry{}
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, storage.Unavailable("exportAll", err)
		}
		entries = append(entries, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("exportAll", fmt.Errorf("iterate metadata: %w", err))
	}
	return entries, nil
}

// Statistics aggregates the owner's records.
func (s *Store) Statistics(ctx context.Context, owner string) (query.Statistics, error) {
	if err := storage.ValidateOwner("statistics", owner); err != nil {
		return query.Statistics{}, err
	}
	records, err := s.listOwned(ctx, "statistics", owner, query.Filter{})
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
	prefs, err := s.GetPreferences(ctx, owner)
	if err != nil {
		return query.Envelope{}, err
	}
	meta, err := s.allMetadata(ctx)
	if err != nil {
		return query.Envelope{}, err
	}
	return query.BuildEnvelope(storage.TierDurable, s.clock.Now(), records, prefs, meta), nil
}

// Info describes the database file.
func (s *Store) Info(ctx context.Context) (storage.Info, error) {
	db, err := s.conn(ctx, "info")
	if err != nil {
		return storage.Info{}, err
	}

	var count, pages, pageSize int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reminders`).Scan(&count); err != nil {
		return storage.Info{}, storage.Unavailable("info", fmt.Errorf("count records: %w", err))
	}
	if err := db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return storage.Info{}, storage.Unavailable("info", fmt.Errorf("page count: %w", err))
	}
	if err := db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return storage.Info{}, storage.Unavailable("info", fmt.Errorf("page size: %w", err))
	}

	features := []string{storage.FeatureTransactions, storage.FeatureIndexes, storage.FeaturePersistent}
	if s.watchVersion {
		features = append(features, storage.FeatureVersionWatch)
	}
	return storage.Info{
		TierName:    storage.TierDurable,
		Persistent:  true,
		Location:    s.path,
		RecordCount: int(count),
		SizeBytes:   pages * pageSize,
		Features:    features,
	}, nil
}

// HealthCheck runs the shared round-trip check.
func (s *Store) HealthCheck(ctx context.Context) storage.HealthReport {
	return storage.CheckHealth(ctx, s, storage.TierDurable, s.clock.Now())
}
