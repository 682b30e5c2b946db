package probe

import "fmt"

// LowQuotaBytes is the flat quota estimate below which a warning is raised.
const LowQuotaBytes int64 = 1 << 20

// Recommend derives user-facing hints from capabilities. The result is
// never nil.
func Recommend(c Capabilities) []Recommendation {
	recs := []Recommendation{}

	switch {
	case !c.Durable.Available && !c.Flat.Available:
		recs = append(recs, Recommendation{
			Severity: SeverityCritical,
			Message:  "No persistent storage is available; reminders will be lost when the process exits.",
			Action:   "Export your reminders regularly and check that the data directory is writable.",
		})
	case !c.Durable.Available:
		recs = append(recs, Recommendation{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Durable storage is unavailable (%s); reminders are kept in flat storage.", c.Durable.Reason),
			Action:   "Purge completed reminders periodically; flat storage evicts old completed reminders when full.",
		})
	}

	if c.Durable.Reason == ReasonRestricted || c.Flat.Reason == ReasonRestricted {
		recs = append(recs, Recommendation{
			Severity: SeverityWarning,
			Message:  "Storage is restricted in this environment.",
			Action:   "Run outside the restricted environment or point the data directory at a writable location.",
		})
	}
	if c.Durable.Reason == ReasonAPIMissing {
		recs = append(recs, Recommendation{
			Severity: SeverityInfo,
			Message:  "The SQLite engine is not available in this build.",
			Action:   "Use a build with cgo enabled to get indexed durable storage.",
		})
	}

	if c.Flat.Available && c.Flat.QuotaEstimateBytes > 0 && c.Flat.QuotaEstimateBytes < LowQuotaBytes {
		recs = append(recs, Recommendation{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Flat storage accepted writes of only %d bytes.", c.Flat.QuotaEstimateBytes),
			Action:   "Free disk space or purge completed reminders.",
		})
	}
	return recs
}
