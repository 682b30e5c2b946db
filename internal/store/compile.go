package store

import (
	"strings"

	"github.com/roach88/remindr/internal/query"
)

// Secondary index names.
const (
	indexOwner         = "idx_reminders_owner"
	indexOwnerStatus   = "idx_reminders_owner_status"
	indexOwnerCategory = "idx_reminders_owner_category"
	indexOwnerDue      = "idx_reminders_owner_due"
)

// recordColumns is the column list every record query selects, in the
// order scanRecord expects.
const recordColumns = `id, owner, title, description, due_at, category, priority, status,
	notify, alert_offsets, created_at, updated_at, completed_at, snoozed_at`

// chooseIndex picks the most selective index for f: status, then category,
// then due range, falling back to owner alone.
func chooseIndex(f query.Filter) string {
	switch {
	case f.Status != "":
		return indexOwnerStatus
	case f.Category != "":
		return indexOwnerCategory
	case f.HasDueRange():
		return indexOwnerDue
	default:
		return indexOwner
	}
}

// compileList builds the SELECT for List.
//
// Only the predicate served by the chosen index is pushed into SQL; the
// caller runs the full filter, sort and pagination over the result with
// query.Apply. All values are parameterized, and rows come back in id
// order so the in-memory sort starts from a deterministic sequence.
func compileList(owner string, f query.Filter) (string, []any) {
	index := chooseIndex(f)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(recordColumns)
	b.WriteString(" FROM reminders INDEXED BY ")
	b.WriteString(index)
	b.WriteString(" WHERE owner = ?")
	params := []any{owner}

	switch index {
	case indexOwnerStatus:
		b.WriteString(" AND status = ?")
		params = append(params, string(f.Status))
	case indexOwnerCategory:
		b.WriteString(" AND category = ?")
		params = append(params, string(f.Category))
	case indexOwnerDue:
		if !f.DueFrom.IsZero() {
			b.WriteString(" AND due_at >= ?")
			params = append(params, toMillis(f.DueFrom))
		}
		if !f.DueTo.IsZero() {
			b.WriteString(" AND due_at <= ?")
			params = append(params, toMillis(f.DueTo))
		}
	}

	b.WriteString(" ORDER BY id COLLATE BINARY ASC")
	return b.String(), params
}
