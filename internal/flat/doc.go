// Package flat implements the flat storage tier: every record, preference
// and metadata entry lives in one JSON document stored under a single key
// of a KV engine, rewritten wholesale on each mutation.
//
// Listing loads the whole document and filters in memory. There is no index.
//
// # Quota and eviction
//
// Before each write the encoded document is checked against MaxBytes. When
// it does not fit, or the engine itself rejects the write with ErrQuota,
// completed records whose UpdatedAt is older than EvictAfter are dropped one
// at a time, oldest first, until the write fits. If nothing is left to drop
// the write fails with storage.ErrQuotaExceeded and the stored document is
// left as it was.
//
// # Concurrent writers
//
// Within one process a mutex serializes mutations. Across processes the
// document carries a revision counter: a mutation re-reads the revision
// before writing and starts over if it moved. That narrows the lost-update
// window without closing it, since the engines offer no compare-and-swap.
package flat
