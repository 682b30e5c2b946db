package flat

import (
	"errors"
	"strings"
	"syscall"
)

// Errors returned by KV implementations.
var (
	// ErrNotExist is returned by Get for a missing key.
	ErrNotExist = errors.New("key does not exist")

	// ErrQuota is returned by Set when the engine refuses the write for
	// lack of space.
	ErrQuota = errors.New("storage quota exceeded")
)

// KV is the minimal key-value engine the flat tier writes its document to.
//
// Implementations must be safe for concurrent use. Set replaces the whole
// value atomically: a reader sees either the old value or the new one.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error

	// Location describes where data lives, for diagnostics.
	Location() string

	// Persistent reports whether values survive a process restart.
	Persistent() bool

	Close() error
}

// isQuotaErr recognizes out-of-space failures from the filesystem.
func isQuotaErr(err error) bool {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "quota")
}
