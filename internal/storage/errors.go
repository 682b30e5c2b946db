package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Code categorizes storage errors. The values are part of the public
// contract and appear verbatim in CLI JSON output.
type Code string

const (
	// CodeStorageUnavailable indicates the engine failed or refused the call.
	CodeStorageUnavailable Code = "StorageUnavailable"

	// CodeQuotaExceeded indicates a write did not fit even after eviction.
	CodeQuotaExceeded Code = "QuotaExceeded"

	// CodeValidation indicates the input failed shape validation.
	CodeValidation Code = "ValidationError"

	// CodeNotFound indicates an identity-based operation found no record.
	CodeNotFound Code = "NotFound"

	// CodeTimeout indicates the bounded wait expired.
	CodeTimeout Code = "Timeout"
)

// Error is the single error type returned by the storage contract.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op is the contract operation that failed (e.g. "save").
	Op string

	// Message is a human-readable description.
	Message string

	// Fields maps invalid field paths to problems (validation errors only).
	Fields map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrStorageUnavailable = &Error{Code: CodeStorageUnavailable}
	ErrQuotaExceeded      = &Error{Code: CodeQuotaExceeded}
	ErrValidation         = &Error{Code: CodeValidation}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrTimeout            = &Error{Code: CodeTimeout}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := slices.Sorted(maps.Keys(e.Fields))
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + " " + e.Fields[k]
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound)
// works for every NotFound regardless of operation or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the storage code carried by err, or "" if err is not a
// storage error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsStorageUnavailable reports whether err carries CodeStorageUnavailable.
func IsStorageUnavailable(err error) bool { return errors.Is(err, ErrStorageUnavailable) }

// IsQuotaExceeded reports whether err carries CodeQuotaExceeded.
func IsQuotaExceeded(err error) bool { return errors.Is(err, ErrQuotaExceeded) }

// IsValidation reports whether err carries CodeValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTimeout reports whether err carries CodeTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// NewValidationError creates a ValidationError with optional field details.
func NewValidationError(op, message string, fields map[string]string) *Error {
	return &Error{Code: CodeValidation, Op: op, Message: message, Fields: fields}
}

// NewNotFoundError creates a NotFound error for the given id.
func NewNotFoundError(op, id string) *Error {
	return &Error{Code: CodeNotFound, Op: op, Message: fmt.Sprintf("no record with id %q", id)}
}

// NewQuotaError creates a QuotaExceeded error.
// A limit of zero or less means the engine itself refused the write.
func NewQuotaError(op string, need, limit int64, cause error) *Error {
	msg := fmt.Sprintf("write of %d bytes exceeds quota of %d bytes after eviction", need, limit)
	if limit <= 0 {
		msg = fmt.Sprintf("write of %d bytes rejected by storage engine after eviction", need)
	}
	return &Error{Code: CodeQuotaExceeded, Op: op, Message: msg, Err: cause}
}

// NewTimeoutError creates a Timeout error for a wait bounded by d.
func NewTimeoutError(op string, d time.Duration) *Error {
	return &Error{Code: CodeTimeout, Op: op, Message: fmt.Sprintf("no result within %s", d)}
}

// Unavailable normalizes an engine failure into a StorageUnavailable error.
//
// Errors that already carry a storage code pass through unchanged, and an
// expired context becomes Timeout. A nil err returns nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Op: op, Message: "deadline exceeded", Err: err}
	}
	return &Error{Code: CodeStorageUnavailable, Op: op, Err: err}
}
