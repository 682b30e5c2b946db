package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Tables only
// 1 - Secondary indexes on reminders
const currentSchemaVersion = 1

// DefaultConnectTimeout bounds Initialize and transparent reopens.
const DefaultConnectTimeout = 15 * time.Second

var errNotInitialized = errors.New("durable store not initialized")

var _ storage.Backend = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// Path is the database file. Required.
	Path string

	// ConnectTimeout bounds opening the database. Zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// WatchVersion enables the version-change watcher.
	WatchVersion bool

	Clock  reminder.Clock
	IDs    reminder.IDGenerator
	Logger *slog.Logger
}

// Store is the durable tier backend.
//
// Thread-safety: All methods are safe for concurrent use. The connection
// pool is limited to one connection, so transactions are serialized.
type Store struct {
	path           string
	connectTimeout time.Duration
	watchVersion   bool
	clock          reminder.Clock
	ids            reminder.IDGenerator
	logger         *slog.Logger

	// instance identifies this Store in the version marker.
	instance string

	mu          sync.Mutex
	db          *sql.DB
	initialized bool
	watcher     *fsnotify.Watcher
}

// New creates an uninitialized durable store.
func New(opts Options) *Store {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
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
		path:           opts.Path,
		connectTimeout: opts.ConnectTimeout,
		watchVersion:   opts.WatchVersion,
		clock:          opts.Clock,
		ids:            opts.IDs,
		logger:         opts.Logger.With("tier", storage.TierDurable),
		instance:       uuid.NewString(),
	}
}

// Initialize opens the database, applies pragmas and migrations and starts
// the version watcher. It is idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return storage.Unavailable("initialize", errors.New("database path is required"))
	}
	if s.db == nil {
		if err := s.openLocked(ctx, "initialize"); err != nil {
			return err
		}
	}
	if s.watchVersion && s.watcher == nil {
		if err := s.startWatcherLocked(); err != nil {
			// The store still works without cross-instance notifications.
			s.logger.Warn("version watcher unavailable", "path", s.path, "error", err)
		}
	}
	s.initialized = true
	return nil
}

// openLocked opens the connection within the connect timeout. Caller must
// hold s.mu.
func (s *Store) openLocked(ctx context.Context, op string) error {
	db, err := storage.WithTimeout(ctx, op, s.connectTimeout, func(ctx context.Context) (*sql.DB, error) {
		db, err := s.open(ctx)
		if ctx.Err() != nil {
			// Nobody is waiting for this connection any more.
			if db != nil {
				db.Close()
			}
			return nil, ctx.Err()
		}
		return db, err
	})
	if err != nil {
		return storage.Unavailable(op, err)
	}
	s.db = db
	return nil
}

// open creates or opens the database file and brings the schema up to date.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	migrated, err := applySchema(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if migrated {
		s.writeMarker()
	}
	return db, nil
}

// Close stops the watcher and closes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	s.stopWatcherLocked()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// conn returns the open connection, reopening it if a version change closed
// it since Initialize.
func (s *Store) conn(ctx context.Context, op string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if !s.initialized {
		return nil, storage.Unavailable(op, errNotInitialized)
	}
	s.logger.Info("reopening database after version change", "path", s.path)
	if err := s.openLocked(ctx, op); err != nil {
		return nil, err
	}
	return s.db, nil
}

// connected reports whether a connection is currently open.
func (s *Store) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

// withConn runs fn on the current connection. When the connection was
// closed between conn returning it and fn using it (the version watcher
// does this), fn runs once more on a reopened connection.
func (s *Store) withConn(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	db, err := s.conn(ctx, op)
	if err != nil {
		return err
	}
	err = fn(db)
	if !isClosed(err) {
		return err
	}

	s.logger.Debug("connection closed under operation, retrying", "op", op)
	s.dropConn(db)
	if db, err = s.conn(ctx, op); err != nil {
		return err
	}
	return fn(db)
}

// dropConn forgets db if it is still the current connection.
func (s *Store) dropConn(db *sql.DB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == db {
		s.db.Close()
		s.db = nil
	}
}

func isClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed")
}

// inTx runs fn inside a transaction on the current connection.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.withConn(ctx, op, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return storage.Unavailable(op, fmt.Errorf("begin transaction: %w", err))
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return storage.Unavailable(op, err)
		}
		if err := tx.Commit(); err != nil {
			return storage.Unavailable(op, fmt.Errorf("commit transaction: %w", err))
		}
		return nil
	})
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations. It
// reports whether any migration ran.
func applySchema(ctx context.Context, db *sql.DB) (bool, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return false, fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(ctx, db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) (bool, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return false, fmt.Errorf("get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return false, nil
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return false, err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return false, fmt.Errorf("set user_version: %w", err)
	}
	return true, nil
}

// indexes lists the secondary indexes on reminders, by name.
var indexes = []struct {
	name    string
	columns string
}{
	{indexOwner, "owner"},
	{indexOwnerStatus, "owner, status"},
	{indexOwnerCategory, "owner, category"},
	{indexOwnerDue, "owner, due_at"},
}

// migrateToV1 creates the secondary indexes. CREATE INDEX IF NOT EXISTS
// makes a half-applied migration safe to re-run.
func migrateToV1(ctx context.Context, db *sql.DB) error {
	for _, idx := range indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON reminders(%s)", idx.name, idx.columns)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
