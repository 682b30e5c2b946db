package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/remindr/internal/reminder"
)

// HealthOwner scopes the throwaway record written by CheckHealth.
const HealthOwner = "__health__"

// CheckHealth saves a throwaway record on b, reads it back and deletes it.
// Every tier's HealthCheck delegates here.
func CheckHealth(ctx context.Context, b Backend, tier string, now time.Time) HealthReport {
	report := HealthReport{TierName: tier, CheckedAt: reminder.Normalize(now)}

	saved, err := b.Save(ctx, reminder.Record{
		Owner:    HealthOwner,
		Title:    "health check",
		Due:      now.Add(time.Hour),
		Priority: reminder.PriorityLow,
	})
	if err != nil {
		report.Detail = fmt.Sprintf("save failed: %v", err)
		return report
	}

	got, err := b.GetByID(ctx, saved.ID)
	switch {
	case err != nil:
		report.Detail = fmt.Sprintf("read back failed: %v", err)
	case got == nil:
		report.Detail = "read back failed: record missing after save"
	case got.Title != saved.Title:
		report.Detail = fmt.Sprintf("read back failed: title %q, want %q", got.Title, saved.Title)
	}

	deleted, delErr := b.Delete(ctx, saved.ID)
	if report.Detail != "" {
		return report
	}
	if delErr != nil {
		report.Detail = fmt.Sprintf("delete failed: %v", delErr)
		return report
	}
	if !deleted {
		report.Detail = "delete failed: record already gone"
		return report
	}

	report.Healthy = true
	report.Detail = "save/read/delete round-trip succeeded"
	return report
}
