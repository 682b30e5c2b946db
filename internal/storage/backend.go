package storage

import (
	"context"
	"time"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
)

// Tier names, in priority order.
const (
	TierDurable   = "durable"
	TierFlat      = "flat"
	TierEphemeral = "ephemeral"
)

// Feature flags reported by Info.
const (
	FeatureTransactions  = "transactions"
	FeatureIndexes       = "indexes"
	FeaturePersistent    = "persistent"
	FeatureEviction      = "eviction"
	FeatureVersionWatch  = "version-watch"
	FeatureRevisionCheck = "revision-check"
)

// Backend is the persistence contract shared by all tiers.
//
// Implementations must be safe for concurrent use. Input validation happens
// before any I/O, so a ValidationError never leaves partial writes behind.
type Backend interface {
	// Initialize opens the underlying engine. Operations on an uninitialized
	// backend fail with StorageUnavailable unless the tier reinitializes
	// itself transparently.
	Initialize(ctx context.Context) error

	// Save inserts or replaces a record. A missing id is generated, CreatedAt
	// is set on first save and kept afterwards, UpdatedAt is always refreshed.
	Save(ctx context.Context, r reminder.Record) (reminder.Record, error)

	// List returns the owner's records matching f, sorted and paged.
	List(ctx context.Context, owner string, f query.Filter) ([]reminder.Record, error)

	// GetByID returns the record or nil when no record has that id.
	GetByID(ctx context.Context, id string) (*reminder.Record, error)

	// Update merges p into the stored record. Fails NotFound if absent.
	Update(ctx context.Context, id string, p reminder.Patch) (reminder.Record, error)

	// Delete removes a record and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteByStatus removes every record of the owner with the given status.
	DeleteByStatus(ctx context.Context, owner string, status reminder.Status) (int, error)

	SavePreferences(ctx context.Context, p reminder.Preferences) (reminder.Preferences, error)
	GetPreferences(ctx context.Context, owner string) (*reminder.Preferences, error)

	SaveMetadata(ctx context.Context, key string, value any) (reminder.MetadataEntry, error)
	GetMetadata(ctx context.Context, key string) (*reminder.MetadataEntry, error)

	// Statistics aggregates the owner's records.
	Statistics(ctx context.Context, owner string) (query.Statistics, error)

	// ExportAll returns an envelope with the owner's records and preferences
	// and all metadata.
	ExportAll(ctx context.Context, owner string) (query.Envelope, error)

	// ImportAll validates every record in env, then stores them under owner
	// with freshly generated ids. Nothing is written if any record is invalid.
	ImportAll(ctx context.Context, env query.Envelope, owner string) (int, error)

	// Clear removes the owner's records and preferences and returns the
	// number of records removed.
	Clear(ctx context.Context, owner string) (int, error)

	// Info describes the tier for diagnostics.
	Info(ctx context.Context) (Info, error)

	// HealthCheck runs a save/read/delete round-trip. See CheckHealth.
	HealthCheck(ctx context.Context) HealthReport

	// Close releases the underlying engine.
	Close() error
}

// Info is a tier's self-description.
type Info struct {
	TierName    string   `json:"tierName"`
	Persistent  bool     `json:"persistent"`
	Warning     string   `json:"warning,omitempty"`
	Location    string   `json:"location,omitempty"`
	RecordCount int      `json:"recordCount"`
	SizeBytes   int64    `json:"sizeBytes"`  // -1 when unknown
	QuotaBytes  int64    `json:"quotaBytes"` // 0 when unbounded or unknown
	Features    []string `json:"features"`
}

// HasFeature reports whether the tier advertises feature f.
func (i Info) HasFeature(f string) bool {
	for _, have := range i.Features {
		if have == f {
			return true
		}
	}
	return false
}

// NonPersistentWarning is surfaced by tiers whose data does not survive a
// process restart.
const NonPersistentWarning = "data is held in memory only and will be lost when the process exits"

// HealthReport is the result of a health check.
type HealthReport struct {
	Healthy   bool      `json:"healthy"`
	TierName  string    `json:"tierName"`
	Detail    string    `json:"detail"`
	CheckedAt time.Time `json:"checkedAt"`
}
