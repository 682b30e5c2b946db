package testutil

import (
	"time"

	"github.com/roach88/remindr/internal/reminder"
)

// NewRecord returns a valid active record for owner, due one day after
// Epoch. Tests override the fields they care about.
func NewRecord(owner, title string) reminder.Record {
	return reminder.Record{
		Owner:        owner,
		Title:        title,
		Due:          Epoch.Add(24 * time.Hour),
		Category:     reminder.CategoryPersonal,
		Priority:     reminder.PriorityDefault,
		Status:       reminder.StatusActive,
		Notify:       true,
		AlertOffsets: []int{15},
	}
}

// RecordOption mutates a record built by Build.
type RecordOption func(*reminder.Record)

// Build returns NewRecord(owner, title) with opts applied in order.
//
// Example:
//
//	r := testutil.Build("alice", "Pay rent",
//		testutil.WithCategory(reminder.CategoryFinance),
//		testutil.WithPriority(reminder.PriorityUrgent))
func Build(owner, title string, opts ...RecordOption) reminder.Record {
	r := NewRecord(owner, title)
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithID sets a caller-chosen id.
func WithID(id string) RecordOption {
	return func(r *reminder.Record) { r.ID = id }
}

// WithStatus sets the status.
func WithStatus(s reminder.Status) RecordOption {
	return func(r *reminder.Record) { r.Status = s }
}

// WithCategory sets the category.
func WithCategory(c reminder.Category) RecordOption {
	return func(r *reminder.Record) { r.Category = c }
}

// WithPriority sets the priority.
func WithPriority(p int) RecordOption {
	return func(r *reminder.Record) { r.Priority = p }
}

// WithDue sets the due time.
func WithDue(t time.Time) RecordOption {
	return func(r *reminder.Record) { r.Due = t }
}

// WithDescription sets the description.
func WithDescription(d string) RecordOption {
	return func(r *reminder.Record) { r.Description = d }
}

// WithAlerts sets notify and the alert offsets.
func WithAlerts(notify bool, offsets ...int) RecordOption {
	return func(r *reminder.Record) {
		r.Notify = notify
		r.AlertOffsets = offsets
	}
}
