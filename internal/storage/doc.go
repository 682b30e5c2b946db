// Package storage defines the persistence contract every reminder tier
// implements, plus the pieces of that contract shared by all tiers.
//
// The contract is the Backend interface. Three packages satisfy it:
//
//   - store:  durable tier (SQLite, indexed, transactional)
//   - flat:   flat tier (one serialized document in a key-value engine)
//   - memory: ephemeral tier (process memory only)
//
// Shared behaviour lives here so no tier re-implements it:
//
//   - Validation: ValidateRecord and friends run before any tier I/O
//   - Stamping: PrepareSave, ApplyPatch, PrepareImport assign ids/timestamps
//   - Overdue promotion: PromoteOverdue for lazy active → overdue on reads
//   - Health: CheckHealth runs the same save/read/delete round-trip for all
//   - Bounded waits: WithTimeout turns a slow call into a Timeout error
//   - Retries: Retry, for callers; the contract itself never retries
//
// # Errors
//
// Every error a tier returns is (or wraps) an *Error carrying one of five
// codes: StorageUnavailable, QuotaExceeded, ValidationError, NotFound and
// Timeout. Use errors.Is against the Err* sentinels or the IsXxx helpers.
package storage
