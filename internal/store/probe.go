package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Probe checks that a SQLite database can be created and written in dir. It
// opens a throwaway database, creates a table, inserts a row inside a
// transaction and commits. The files are removed afterwards; removal
// failures are logged.
func Probe(ctx context.Context, dir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create probe directory: %w", err)
	}

	path := filepath.Join(dir, ".remindr-probe-"+uuid.NewString()+".db")
	defer removeProbeFiles(path, logger)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open probe database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("close probe database", "path", path, "error", err)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to probe database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE probe (id TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create probe table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin probe transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO probe (id, value) VALUES (?, ?)`, "probe", "ok"); err != nil {
		return fmt.Errorf("insert probe row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit probe transaction: %w", err)
	}
	return nil
}

func removeProbeFiles(path string, logger *slog.Logger) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove probe file", "path", p, "error", err)
		}
	}
}
