package flat

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// FileKV stores each key as one file in a directory. Writes go through a
// temp file and rename, so a crash never leaves a torn document.
type FileKV struct {
	dir string
}

var _ KV = (*FileKV)(nil)

// OpenFileKV creates dir if needed and returns a KV rooted there.
func OpenFileKV(dir string) (*FileKV, error) {
	if dir == "" {
		return nil, errors.New("file kv: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create kv directory %s: %w", dir, err)
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) (string, error) {
	name := url.PathEscape(key)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("file kv: invalid key %q", key)
	}
	return filepath.Join(f.dir, name), nil
}

// Get reads the value stored under key.
func (f *FileKV) Get(key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Set atomically replaces the value stored under key.
func (f *FileKV) Set(key string, value []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(value)); err != nil {
		if isQuotaErr(err) {
			return fmt.Errorf("write %s: %w: %v", path, ErrQuota, err)
		}
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Delete removes key. A missing key is not an error.
func (f *FileKV) Delete(key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Location returns the directory.
func (f *FileKV) Location() string { return f.dir }

// Persistent is always true.
func (f *FileKV) Persistent() bool { return true }

// Close is a no-op.
func (f *FileKV) Close() error { return nil }
