// Package store implements the durable storage tier on SQLite.
//
// Records, preferences and metadata live in three tables. Listing is
// accelerated by secondary indexes on the reminders table:
//
//   - idx_reminders_owner:          (owner)
//   - idx_reminders_owner_status:   (owner, status)
//   - idx_reminders_owner_category: (owner, category)
//   - idx_reminders_owner_due:      (owner, due_at)
//
// The indexes are created on first open under a PRAGMA user_version
// migration, so reopening an existing database never rebuilds them.
//
// # Transactions
//
// Every multi-step operation (upsert, bulk delete, import, clear and the
// lazy active → overdue promotion that precedes reads) runs in a single
// transaction: its writes are either all visible or none are.
//
// # Version changes
//
// Instances sharing a database file coordinate through a marker file next
// to it (<db>.version). An instance that migrates the schema writes its own
// id into the marker. Every other instance watches the directory and, when
// the marker changes or the database file disappears, closes its connection.
// The next operation reopens it transparently.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single open connection: SQLite has one writer anyway
//
// Timestamps are stored as INTEGER milliseconds since the Unix epoch (UTC).
package store
