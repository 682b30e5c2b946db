package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/remindr/internal/probe"
	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
)

const dueLayout = "2006-01-02 15:04"

// renderRecords prints one line per record and a count.
func renderRecords(w io.Writer, records []reminder.Record) error {
	for _, r := range records {
		if _, err := fmt.Fprintf(w, "%s  %-9s  p%d  %s  %-8s  %s\n",
			r.ID, r.Status, r.Priority, r.Due.Format(dueLayout), r.Category, r.Title); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d reminder(s)\n", len(records))
	return err
}

// renderRecord prints every field of one record.
func renderRecord(w io.Writer, r reminder.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", r.Title)
	if r.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", r.Description)
	}
	fmt.Fprintf(tw, "Due:\t%s\n", r.Due.Format(dueLayout))
	fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
	fmt.Fprintf(tw, "Category:\t%s\n", r.Category)
	fmt.Fprintf(tw, "Priority:\t%d\n", r.Priority)
	fmt.Fprintf(tw, "Notify:\t%t\n", r.Notify)
	fmt.Fprintf(tw, "Alerts:\t%s\n", formatOffsets(r.AlertOffsets))
	fmt.Fprintf(tw, "Created:\t%s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Updated:\t%s\n", r.UpdatedAt.Format(time.RFC3339))
	if r.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", r.CompletedAt.Format(time.RFC3339))
	}
	if r.SnoozedAt != nil {
		fmt.Fprintf(tw, "Snoozed:\t%s\n", r.SnoozedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func formatOffsets(offsets []int) string {
	if len(offsets) == 0 {
		return "none"
	}
	parts := make([]string, len(offsets))
	for i, m := range offsets {
		parts[i] = fmt.Sprintf("%dm", m)
	}
	return strings.Join(parts, ", ")
}

// renderStats prints totals and the per-status and per-category counts in
// display order.
func renderStats(w io.Writer, s query.Statistics) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%d\n", s.Total)
	fmt.Fprintf(tw, "Upcoming (24h):\t%d\n", s.Upcoming)
	fmt.Fprintf(tw, "Notify enabled:\t%d\n", s.NotifyEnabled)
	fmt.Fprintf(tw, "Avg alerts:\t%.2f\n", s.AvgAlerts)
	fmt.Fprintln(tw, "By status:")
	for _, st := range reminder.Statuses {
		fmt.Fprintf(tw, "  %s\t%d\n", st, s.ByStatus[st])
	}
	fmt.Fprintln(tw, "By category:")
	for _, c := range reminder.Categories {
		fmt.Fprintf(tw, "  %s\t%d\n", c, s.ByCategory[c])
	}
	fmt.Fprintln(tw, "By priority:")
	for p := reminder.PriorityLow; p <= reminder.PriorityUrgent; p++ {
		fmt.Fprintf(tw, "  p%d\t%d\n", p, s.ByPriority[p])
	}
	return tw.Flush()
}

// renderSettings prints settings one per line, sorted by key, with values
// as compact JSON.
func renderSettings(w io.Writer, settings map[string]any) error {
	if len(settings) == 0 {
		_, err := fmt.Fprintln(w, "No preferences set")
		return err
	}
	for _, k := range sortedKeys(settings) {
		v, err := json.Marshal(settings[k])
		if err != nil {
			return fmt.Errorf("encode setting %s: %w", k, err)
		}
		if _, err := fmt.Fprintf(w, "%s = %s\n", k, v); err != nil {
			return err
		}
	}
	return nil
}

func renderInfo(w io.Writer, info storage.Info) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Tier:\t%s\n", info.TierName)
	fmt.Fprintf(tw, "Persistent:\t%t\n", info.Persistent)
	if info.Location != "" {
		fmt.Fprintf(tw, "Location:\t%s\n", info.Location)
	}
	fmt.Fprintf(tw, "Records:\t%d\n", info.RecordCount)
	if info.SizeBytes >= 0 {
		fmt.Fprintf(tw, "Size:\t%d bytes\n", info.SizeBytes)
	}
	if info.QuotaBytes > 0 {
		fmt.Fprintf(tw, "Quota:\t%d bytes\n", info.QuotaBytes)
	}
	fmt.Fprintf(tw, "Features:\t%s\n", strings.Join(info.Features, ", "))
	if info.Warning != "" {
		fmt.Fprintf(tw, "Warning:\t%s\n", info.Warning)
	}
	return tw.Flush()
}

func renderHealth(w io.Writer, h storage.HealthReport) error {
	state := "healthy"
	if !h.Healthy {
		state = "UNHEALTHY"
	}
	_, err := fmt.Fprintf(w, "%s: %s (%s)\n", h.TierName, state, h.Detail)
	return err
}

func renderProbe(w io.Writer, r probe.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	renderCapability(tw, storage.TierDurable, r.Capabilities.Durable)
	renderCapability(tw, storage.TierFlat, r.Capabilities.Flat)
	fmt.Fprintf(tw, "%s:\tavailable\n", storage.TierEphemeral)
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, rec := range r.Recommendations {
		if _, err := fmt.Fprintf(w, "[%s] %s %s\n", rec.Severity, rec.Message, rec.Action); err != nil {
			return err
		}
	}
	return nil
}

func renderCapability(w io.Writer, tier string, c probe.Capability) {
	if !c.Available {
		fmt.Fprintf(w, "%s:\tunavailable (%s)\t%s\n", tier, c.Reason, c.Detail)
		return
	}
	if c.QuotaEstimateBytes > 0 {
		fmt.Fprintf(w, "%s:\tavailable\tquota estimate %d bytes\n", tier, c.QuotaEstimateBytes)
		return
	}
	fmt.Fprintf(w, "%s:\tavailable\n", tier)
}
