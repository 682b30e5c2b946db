package query

import (
	"math"
	"time"

	"github.com/roach88/remindr/internal/reminder"
)

// UpcomingWindow is how far ahead an active reminder counts as upcoming.
const UpcomingWindow = 24 * time.Hour

// Statistics aggregates an owner's records.
//
// Every known status, category and priority appears in the maps, with zero
// counts included, so reports have a stable shape.
type Statistics struct {
	Total              int                       `json:"total"`
	ByStatus           map[reminder.Status]int   `json:"byStatus"`
	ByCategory         map[reminder.Category]int `json:"byCategory"`
	ByPriority         map[int]int               `json:"byPriority"`
	NotifyEnabled      int                       `json:"notifyEnabled"`
	Upcoming           int                       `json:"upcoming"`
	AvgAlerts          float64                   `json:"avgAlerts"`
	AvgAlertsNotifying float64                   `json:"avgAlertsNotifying"`
}

// NewStatistics returns an empty aggregate with every bucket present.
func NewStatistics() Statistics {
	s := Statistics{
		ByStatus:   make(map[reminder.Status]int, len(reminder.Statuses)),
		ByCategory: make(map[reminder.Category]int, len(reminder.Categories)),
		ByPriority: make(map[int]int, reminder.PriorityUrgent),
	}
	for _, st := range reminder.Statuses {
		s.ByStatus[st] = 0
	}
	for _, c := range reminder.Categories {
		s.ByCategory[c] = 0
	}
	for p := reminder.PriorityLow; p <= reminder.PriorityUrgent; p++ {
		s.ByPriority[p] = 0
	}
	return s
}

// Compute aggregates records as of now.
func Compute(records []reminder.Record, now time.Time) Statistics {
	s := NewStatistics()

	var alerts, notifyingAlerts int
	for _, r := range records {
		s.Total++
		s.ByStatus[r.Status]++
		s.ByCategory[r.Category]++
		s.ByPriority[r.Priority]++

		alerts += len(r.AlertOffsets)
		if r.Notify {
			s.NotifyEnabled++
			notifyingAlerts += len(r.AlertOffsets)
		}
		if r.Status == reminder.StatusActive && !r.Due.Before(now) && r.Due.Sub(now) <= UpcomingWindow {
			s.Upcoming++
		}
	}

	s.AvgAlerts = average(alerts, s.Total)
	s.AvgAlertsNotifying = average(notifyingAlerts, s.NotifyEnabled)
	return s
}

// average returns sum/n rounded to two decimals, or 0 when n is 0.
func average(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Round(float64(sum)/float64(n)*100) / 100
}
