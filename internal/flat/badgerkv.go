package flat

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// DefaultGCRatio is the garbage ratio at which the value log GC pass run by
// Close rewrites a file.
const DefaultGCRatio = 0.5

// BadgerConfig configures a BadgerKV.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in memory; nothing is written to disk.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// Scratch removes Path when the database is closed.
	Scratch bool
}

// DefaultBadgerConfig returns an on-disk configuration for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration with no disk footprint.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// ScratchBadgerConfig returns an on-disk configuration for a fresh
// directory under parent that is deleted on Close.
func ScratchBadgerConfig(parent string) BadgerConfig {
	return BadgerConfig{
		Path:    filepath.Join(parent, ".scratch-"+uuid.NewString()),
		Scratch: true,
	}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerKV is a KV backed by BadgerDB.
type BadgerKV struct {
	db  *badger.DB
	cfg BadgerConfig
}

var _ KV = (*BadgerKV)(nil)

// OpenBadgerKV opens (creating if needed) a badger database.
func OpenBadgerKV(cfg BadgerConfig) (*BadgerKV, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerKV{db: db, cfg: cfg}, nil
}

// Get reads the value stored under key.
func (b *BadgerKV) Get(key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return value, nil
}

// Set replaces the value stored under key in one transaction.
func (b *BadgerKV) Set(key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrTxnTooBig) || isQuotaErr(err) || strings.Contains(err.Error(), "exceeded") {
		return fmt.Errorf("badger set %s: %w: %v", key, ErrQuota, err)
	}
	return fmt.Errorf("badger set %s: %w", key, err)
}

// Delete removes key. A missing key is not an error.
func (b *BadgerKV) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

// Location returns the database path, or "memory".
func (b *BadgerKV) Location() string {
	if b.cfg.InMemory {
		return "memory"
	}
	return b.cfg.Path
}

// Persistent reports whether the database lives on disk.
func (b *BadgerKV) Persistent() bool { return !b.cfg.InMemory }

// RunGC rewrites value log files until badger reports nothing left to
// reclaim.
func (b *BadgerKV) RunGC(ratio float64) error {
	if b.cfg.InMemory {
		return nil
	}
	for {
		err := b.db.RunValueLogGC(ratio)
		if err == nil {
			continue
		}
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		return fmt.Errorf("badger value log gc: %w", err)
	}
}

// Close runs a GC pass, then closes the database. A scratch database's
// directory is removed.
func (b *BadgerKV) Close() error {
	var errs []error
	if !b.cfg.Scratch {
		if err := b.RunGC(DefaultGCRatio); err != nil {
			b.log().Warn("badger value log gc failed", "path", b.cfg.Path, "error", err)
		}
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close badger database: %w", err))
	}
	if b.cfg.Scratch {
		if err := os.RemoveAll(b.cfg.Path); err != nil {
			errs = append(errs, fmt.Errorf("remove scratch database %s: %w", b.cfg.Path, err))
		}
	}
	return errors.Join(errs...)
}

func (b *BadgerKV) log() *slog.Logger {
	if b.cfg.Logger == nil {
		return slog.Default()
	}
	return b.cfg.Logger
}
