package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPatchApply_MergesOnlySetFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Record{
		ID:          "r1",
		Title:       "Dentist",
		Description: "bring card",
		Priority:    2,
		Category:    CategoryHealth,
		Status:      StatusActive,
	}

	got := Patch{Title: Ptr("Dentist (moved)"), Priority: Ptr(4)}.Apply(r, now)

	assert.Equal(t, "Dentist (moved)", got.Title)
	assert.Equal(t, 4, got.Priority)
	assert.Equal(t, "bring card", got.Description)
	assert.Equal(t, CategoryHealth, got.Category)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, "Dentist", r.Title, "input must not be mutated")
}

func TestPatchApply_StatusSideEffects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := Record{Status: StatusActive}

	completed := Patch{Status: Ptr(StatusCompleted)}.Apply(base, now)
	if assert.NotNil(t, completed.CompletedAt) {
		assert.True(t, completed.CompletedAt.Equal(now))
	}

	snoozed := Patch{Status: Ptr(StatusSnoozed)}.Apply(base, now)
	if assert.NotNil(t, snoozed.SnoozedAt) {
		assert.True(t, snoozed.SnoozedAt.Equal(now))
	}

	reopened := Patch{Status: Ptr(StatusActive)}.Apply(completed, now.Add(time.Hour))
	assert.Nil(t, reopened.CompletedAt)
	assert.Nil(t, reopened.SnoozedAt)
}

func TestPatchApply_AlertOffsetsCopied(t *testing.T) {
	offsets := []int{10, 30}
	got := Patch{AlertOffsets: &offsets}.Apply(Record{}, time.Now())
	offsets[0] = 1
	assert.Equal(t, []int{10, 30}, got.AlertOffsets)
}

func TestPatchIsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, Patch{Notify: Ptr(false)}.IsEmpty())
}
