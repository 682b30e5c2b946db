package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
)

// upsertRecordSQL inserts a record or replaces every column of an existing
// one. Callers carry created_at over from the existing row themselves.
const upsertRecordSQL = `
	INSERT INTO reminders (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner = excluded.owner,
		title = excluded.title,
		description = excluded.description,
		due_at = excluded.due_at,
		category = excluded.category,
		priority = excluded.priority,
		status = excluded.status,
		notify = excluded.notify,
		alert_offsets = excluded.alert_offsets,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		completed_at = excluded.completed_at,
		snoozed_at = excluded.snoozed_at
`

func writeRecord(ctx context.Context, tx *sql.Tx, r reminder.Record) error {
	args, err := recordArgs(r)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertRecordSQL, args...); err != nil {
		return fmt.Errorf("write record %s: %w", r.ID, err)
	}
	return nil
}

// readRecord returns the record with id, or nil.
func readRecord(ctx context.Context, tx *sql.Tx, id string) (*reminder.Record, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	return &r, nil
}

// promoteOverdue flips active records past due to overdue. scope is an
// extra WHERE condition ("owner = ?" or "id = ?") bound to arg.
func promoteOverdue(ctx context.Context, tx *sql.Tx, now time.Time, scope string, arg any) error {
	ms := toMillis(reminder.Normalize(now))
	_, err := tx.ExecContext(ctx, `
		UPDATE reminders SET status = ?, updated_at = ?
		WHERE `+scope+` AND status = ? AND due_at < ?
	`, string(reminder.StatusOverdue), ms, arg, string(reminder.StatusActive), ms)
	if err != nil {
		return fmt.Errorf("promote overdue records: %w", err)
	}
	return nil
}

// Save inserts or replaces a record.
func (s *Store) Save(ctx context.Context, r reminder.Record) (reminder.Record, error) {
	rec, err := storage.PrepareSave(r, s.ids, s.clock.Now())
	if err != nil {
		return reminder.Record{}, err
	}

	err = s.inTx(ctx, "save", func(tx *sql.Tx) error {
		existing, err := readRecord(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if rec, err = storage.KeepCreated(rec, *existing); err != nil {
				return err
			}
		}
		return writeRecord(ctx, tx, rec)
	})
	if err != nil {
		return reminder.Record{}, err
	}
	return rec, nil
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
	err := s.inTx(ctx, "update", func(tx *sql.Tx) error {
		existing, err := readRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return storage.NewNotFoundError("update", id)
		}
		if updated, err = storage.ApplyPatch(*existing, p, s.clock.Now()); err != nil {
			return err
		}
		return writeRecord(ctx, tx, updated)
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
	var n int64
	err := s.withConn(ctx, "delete", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete record %s: %w", id, err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, storage.Unavailable("delete", err)
	}
	return n > 0, nil
}

// DeleteByStatus removes the owner's records with status st. Overdue
// promotion runs first so "overdue" also matches records that only just
// became overdue.
func (s *Store) DeleteByStatus(ctx context.Context, owner string, st reminder.Status) (int, error) {
	if err := storage.ValidateOwner("deleteByStatus", owner); err != nil {
		return 0, err
	}
	if err := storage.ValidateStatus("deleteByStatus", st); err != nil {
		return 0, err
	}

	var n int64
	err := s.inTx(ctx, "deleteByStatus", func(tx *sql.Tx) error {
		if err := promoteOverdue(ctx, tx, s.clock.Now(), "owner = ?", owner); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE owner = ? AND status = ?`, owner, string(st))
		if err != nil {
			return fmt.Errorf("delete by status: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func writePreferences(ctx context.Context, tx *sql.Tx, p reminder.Preferences) error {
	settings, err := marshalJSON(p.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO preferences (owner, settings, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at
	`, p.Owner, settings, toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

func writeMetadata(ctx context.Context, tx *sql.Tx, m reminder.MetadataEntry) error {
	value, err := marshalJSON(m.Value)
	if err != nil {
		return fmt.Errorf("marshal metadata value: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO metadata (key, value, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp
	`, m.Key, value, toMillis(m.Timestamp))
	if err != nil {
		return fmt.Errorf("write metadata %s: %w", m.Key, err)
	}
	return nil
}

// SavePreferences replaces the owner's preferences.
func (s *Store) SavePreferences(ctx context.Context, p reminder.Preferences) (reminder.Preferences, error) {
	prefs, err := storage.PreparePreferences(p, s.clock.Now())
	if err != nil {
		return reminder.Preferences{}, err
	}
	err = s.inTx(ctx, "savePreferences", func(tx *sql.Tx) error {
		return writePreferences(ctx, tx, prefs)
	})
	if err != nil {
		return reminder.Preferences{}, err
	}
	return prefs, nil
}

// SaveMetadata replaces the entry under key.
func (s *Store) SaveMetadata(ctx context.Context, key string, value any) (reminder.MetadataEntry, error) {
	entry, err := storage.PrepareMetadata(key, value, s.clock.Now())
	if err != nil {
		return reminder.MetadataEntry{}, err
	}
	err = s.inTx(ctx, "saveMetadata", func(tx *sql.Tx) error {
		return writeMetadata(ctx, tx, entry)
	})
	if err != nil {
		return reminder.MetadataEntry{}, err
	}
	return entry, nil
}

// ImportAll validates env and stores its contents under owner in one
// transaction.
func (s *Store) ImportAll(ctx context.Context, env query.Envelope, owner string) (int, error) {
	imp, err := storage.PrepareImport(env, owner, s.ids, s.clock.Now())
	if err != nil {
		return 0, err
	}

	err = s.inTx(ctx, "importAll", func(tx *sql.Tx) error {
		for _, r := range imp.Records {
			if err := writeRecord(ctx, tx, r); err != nil {
				return err
			}
		}
		if imp.Preferences != nil {
			if err := writePreferences(ctx, tx, *imp.Preferences); err != nil {
				return err
			}
		}
		for _, m := range imp.Metadata {
			if err := writeMetadata(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(imp.Records), nil
}

// Clear removes the owner's records and preferences in one transaction.
func (s *Store) Clear(ctx context.Context, owner string) (int, error) {
	if err := storage.ValidateOwner("clear", owner); err != nil {
		return 0, err
	}

	var n int64
	err := s.inTx(ctx, "clear", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE owner = ?`, owner)
		if err != nil {
			return fmt.Errorf("clear records: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE owner = ?`, owner); err != nil {
			return fmt.Errorf("clear preferences: %w", err)
		}
		return nil
	})
	return int(n), err
}
