package query

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/remindr/internal/reminder"
)

// SortKey names the field a listing is ordered by.
type SortKey string

const (
	SortByDue       SortKey = "due"
	SortByPriority  SortKey = "priority"
	SortByCreatedAt SortKey = "createdAt"
	SortByUpdatedAt SortKey = "updatedAt"
	SortByTitle     SortKey = "title"
)

// SortKeys lists the supported sort keys.
var SortKeys = []SortKey{SortByDue, SortByPriority, SortByCreatedAt, SortByUpdatedAt, SortByTitle}

// Direction is the sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter selects, orders and pages an owner's records.
//
// Zero values mean "no constraint": an empty Status matches every status,
// Priority 0 matches every priority, zero DueFrom/DueTo leave that side of
// the range open, and Limit 0 returns everything after Offset.
type Filter struct {
	Status   reminder.Status   `json:"status,omitempty"`
	Category reminder.Category `json:"category,omitempty"`
	Priority int               `json:"priority,omitempty"`
	DueFrom  time.Time         `json:"dueFrom,omitempty"`
	DueTo    time.Time         `json:"dueTo,omitempty"`
	Search   string            `json:"search,omitempty"`
	SortBy   SortKey           `json:"sortBy,omitempty"`
	Dir      Direction         `json:"dir,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
}

// HasDueRange reports whether either bound of the due range is set.
func (f Filter) HasDueRange() bool {
	return !f.DueFrom.IsZero() || !f.DueTo.IsZero()
}

// Validate checks the filter for unknown enum values and impossible ranges.
func (f Filter) Validate() error {
	var errs []error
	if f.Status != "" && !f.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", f.Status))
	}
	if f.Category != "" && !f.Category.Valid() {
		errs = append(errs, fmt.Errorf("unknown category %q", f.Category))
	}
	if f.Priority < 0 || f.Priority > reminder.PriorityUrgent {
		errs = append(errs, fmt.Errorf("priority %d out of range 1-%d", f.Priority, reminder.PriorityUrgent))
	}
	if f.SortBy != "" && !slices.Contains(SortKeys, f.SortBy) {
		errs = append(errs, fmt.Errorf("unknown sort key %q", f.SortBy))
	}
	if f.Dir != "" && f.Dir != Asc && f.Dir != Desc {
		errs = append(errs, fmt.Errorf("unknown sort direction %q", f.Dir))
	}
	if f.Limit < 0 || f.Offset < 0 {
		errs = append(errs, errors.New("limit and offset must be non-negative"))
	}
	if !f.DueFrom.IsZero() && !f.DueTo.IsZero() && f.DueTo.Before(f.DueFrom) {
		errs = append(errs, errors.New("dueTo is before dueFrom"))
	}
	return errors.Join(errs...)
}

// Apply filters, sorts and pages records according to f. The input slice is
// not modified; the result is never nil.
func Apply(records []reminder.Record, f Filter) []reminder.Record {
	needle := fold(strings.TrimSpace(f.Search))

	out := make([]reminder.Record, 0, len(records))
	for _, r := range records {
		if matches(r, f, needle) {
			out = append(out, r)
		}
	}

	Sort(out, f.SortBy, f.Dir)
	return Paginate(out, f.Offset, f.Limit)
}

// Matches reports whether r satisfies every predicate of f (owner is not
// part of the filter; callers scope by owner first).
func Matches(r reminder.Record, f Filter) bool {
	return matches(r, f, fold(strings.TrimSpace(f.Search)))
}

func matches(r reminder.Record, f Filter, foldedNeedle string) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Priority != 0 && r.Priority != f.Priority {
		return false
	}
	if !f.DueFrom.IsZero() && r.Due.Before(f.DueFrom) {
		return false
	}
	if !f.DueTo.IsZero() && r.Due.After(f.DueTo) {
		return false
	}
	if foldedNeedle != "" && !containsFolded(r, foldedNeedle) {
		return false
	}
	return true
}

// Sort orders records in place by key and direction, breaking ties by id
// ascending. An empty key sorts by due date; an empty direction is ascending.
func Sort(records []reminder.Record, key SortKey, dir Direction) {
	if key == "" {
		key = SortByDue
	}
	sign := 1
	if dir == Desc {
		sign = -1
	}

	slices.SortStableFunc(records, func(a, b reminder.Record) int {
		if c := compareBy(a, b, key); c != 0 {
			return sign * c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func compareBy(a, b reminder.Record, key SortKey) int {
	switch key {
	case SortByPriority:
		return cmp.Compare(a.Priority, b.Priority)
	case SortByCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case SortByUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case SortByTitle:
		return strings.Compare(fold(a.Title), fold(b.Title))
	default:
		return a.Due.Compare(b.Due)
	}
}

// Paginate returns the window [offset, offset+limit) of records. A zero limit
// means no upper bound. The result is never nil.
func Paginate(records []reminder.Record, offset, limit int) []reminder.Record {
	offset = max(offset, 0)
	if offset >= len(records) {
		return []reminder.Record{}
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return records[offset:end]
}
