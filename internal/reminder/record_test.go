package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, s.Valid(), "status %q", s)
	}
	assert.False(t, Status("archived").Valid())
	assert.False(t, Status("").Valid())
}

func TestCategoryValid(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, c.Valid(), "category %q", c)
	}
	assert.False(t, Category("hobby").Valid())
}

func TestRecordClone_IsDeep(t *testing.T) {
	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Record{ID: "a", AlertOffsets: []int{5, 10}, CompletedAt: &done}

	c := r.Clone()
	c.AlertOffsets[0] = 99
	*c.CompletedAt = done.Add(time.Hour)

	assert.Equal(t, []int{5, 10}, r.AlertOffsets)
	assert.True(t, r.CompletedAt.Equal(done))
}

func TestRecordIsOverdue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status Status
		due    time.Time
		want   bool
	}{
		{"active past", StatusActive, now.Add(-time.Minute), true},
		{"active future", StatusActive, now.Add(time.Minute), false},
		{"completed past", StatusCompleted, now.Add(-time.Hour), false},
		{"snoozed past", StatusSnoozed, now.Add(-time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{Status: tt.status, Due: tt.due}
			assert.Equal(t, tt.want, r.IsOverdue(now))
		})
	}
}

func TestNormalize(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	in := time.Date(2026, 5, 6, 7, 8, 9, 123456789, loc)

	got := Normalize(in)
	require.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123000000, got.Nanosecond())
	assert.True(t, got.Equal(in.Truncate(time.Millisecond)))

	assert.True(t, Normalize(time.Time{}).IsZero())
	assert.Nil(t, NormalizePtr(nil))
}
