package reminder

import (
	"slices"
	"time"
)

// Patch is a partial update. A nil field keeps the stored value.
type Patch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Due          *time.Time `json:"due,omitempty"`
	Category     *Category  `json:"category,omitempty"`
	Priority     *int       `json:"priority,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	Notify       *bool      `json:"notify,omitempty"`
	AlertOffsets *[]int     `json:"alertOffsets,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Due == nil && p.Category == nil &&
		p.Priority == nil && p.Status == nil && p.Notify == nil && p.AlertOffsets == nil
}

// Apply merges p into r and returns the result. Status side effects are
// applied here: completing stamps CompletedAt, snoozing stamps SnoozedAt and
// reactivating clears both.
func (p Patch) Apply(r Record, now time.Time) Record {
	out := r.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Due != nil {
		out.Due = *p.Due
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Notify != nil {
		out.Notify = *p.Notify
	}
	if p.AlertOffsets != nil {
		out.AlertOffsets = slices.Clone(*p.AlertOffsets)
	}
	if p.Status != nil && *p.Status != r.Status {
		out.Status = *p.Status
		switch out.Status {
		case StatusCompleted:
			if out.CompletedAt == nil {
				out.CompletedAt = &now
			}
		case StatusSnoozed:
			out.SnoozedAt = &now
		case StatusActive:
			out.CompletedAt = nil
			out.SnoozedAt = nil
		}
	}
	return out
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
