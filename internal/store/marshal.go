package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/remindr/internal/reminder"
)

// toMillis converts t to Unix milliseconds (UTC).
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis converts Unix milliseconds back to a UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

// marshalOffsets converts alert offsets to JSON TEXT for storage.
func marshalOffsets(offsets []int) (string, error) {
	if len(offsets) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(offsets)
	if err != nil {
		return "", fmt.Errorf("marshal alert offsets: %w", err)
	}
	return string(data), nil
}

// unmarshalOffsets parses JSON TEXT to alert offsets. Never returns nil.
func unmarshalOffsets(data string) ([]int, error) {
	offsets := []int{}
	if data == "" || data == "[]" {
		return offsets, nil
	}
	if err := json.Unmarshal([]byte(data), &offsets); err != nil {
		return nil, fmt.Errorf("unmarshal alert offsets: %w", err)
	}
	return offsets, nil
}

// marshalJSON converts an arbitrary JSON value to TEXT.
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// recordArgs returns r's column values in recordColumns order.
func recordArgs(r reminder.Record) ([]any, error) {
	offsets, err := marshalOffsets(r.AlertOffsets)
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID,
		r.Owner,
		r.Title,
		r.Description,
		toMillis(r.Due),
		string(r.Category),
		r.Priority,
		string(r.Status),
		r.Notify,
		offsets,
		toMillis(r.CreatedAt),
		toMillis(r.UpdatedAt),
		nullMillis(r.CompletedAt),
		nullMillis(r.SnoozedAt),
	}, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord scans one row selected with recordColumns.
func scanRecord(row scanner) (reminder.Record, error) {
	var (
		r                     reminder.Record
		category, status      string
		offsets               string
		due, created, updated int64
		completed, snoozed    sql.NullInt64
	)
	err := row.Scan(
		&r.ID,
		&r.Owner,
		&r.Title,
		&r.Description,
		&due,
		&category,
		&r.Priority,
		&status,
		&r.Notify,
		&offsets,
		&created,
		&updated,
		&completed,
		&snoozed,
	)
	if err != nil {
		return reminder.Record{}, err
	}

	r.AlertOffsets, err = unmarshalOffsets(offsets)
	if err != nil {
		return reminder.Record{}, err
	}
	r.Category = reminder.Category(category)
	r.Status = reminder.Status(status)
	r.Due = fromMillis(due)
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	r.CompletedAt = fromNullMillis(completed)
	r.SnoozedAt = fromNullMillis(snoozed)
	return r, nil
}

// scanRecords drains rows. Returns an empty slice (not nil) when there are
// no rows.
func scanRecords(rows *sql.Rows) ([]reminder.Record, error) {
	defer rows.Close()

	records := []reminder.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
