package reminder

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a reminder.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
	StatusSnoozed   Status = "snoozed"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusActive, StatusCompleted, StatusOverdue, StatusCancelled, StatusSnoozed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Category groups reminders for filtering and statistics.
type Category string

const (
	CategoryPersonal Category = "personal"
	CategoryWork     Category = "work"
	CategoryHealth   Category = "health"
	CategoryFinance  Category = "finance"
	CategorySocial   Category = "social"
	CategoryOther    Category = "other"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryPersonal, CategoryWork, CategoryHealth, CategoryFinance, CategorySocial, CategoryOther}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

// Priority bounds. Zero means "unset" and is replaced by PriorityDefault.
const (
	PriorityLow     = 1
	PriorityDefault = 2
	PriorityHigh    = 3
	PriorityUrgent  = 4
)

// Field length limits, counted in characters (runes).
const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
	MaxOwnerLen       = 128
	MaxIDLen          = 64
)

// Record is a single reminder.
//
// ID, CreatedAt and UpdatedAt are assigned by the storage layer. Everything
// else is supplied by the caller and must round-trip unchanged through every
// tier.
type Record struct {
	ID           string     `json:"id"`
	Owner        string     `json:"owner" validate:"owner"`
	Title        string     `json:"title" validate:"required,min=1,max=100"`
	Description  string     `json:"description" validate:"max=500"`
	Due          time.Time  `json:"due" validate:"required"`
	Category     Category   `json:"category" validate:"category"`
	Priority     int        `json:"priority" validate:"min=1,max=4"`
	Status       Status     `json:"status" validate:"status"`
	Notify       bool       `json:"notify"`
	AlertOffsets []int      `json:"alertOffsets" validate:"dive,gt=0"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	SnoozedAt    *time.Time `json:"snoozedAt,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.AlertOffsets != nil {
		out.AlertOffsets = slices.Clone(r.AlertOffsets)
	}
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.SnoozedAt = cloneTime(r.SnoozedAt)
	return out
}

// IsOverdue reports whether an active record's due time has passed at now.
// Only active records are eligible for the lazy overdue promotion.
func (r Record) IsOverdue(now time.Time) bool {
	return r.Status == StatusActive && r.Due.Before(now)
}

// Preferences holds per-owner settings. Settings is an arbitrary JSON object
// and is replaced wholesale on every save.
type Preferences struct {
	Owner     string         `json:"owner"`
	Settings  map[string]any `json:"settings"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// MetadataEntry is process-wide bookkeeping keyed by an arbitrary string.
type MetadataEntry struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Normalize returns t in UTC truncated to millisecond precision, the
// resolution every tier can store losslessly.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

// NormalizePtr is Normalize for nullable timestamps.
func NormalizePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := Normalize(*t)
	return &n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
