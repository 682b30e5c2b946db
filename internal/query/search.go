package query

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/remindr/internal/reminder"
)

// fold maps s to a form suitable for case-insensitive comparison: NFC
// normalized, then Unicode case folded. A Caser is stateful, so one is
// created per call rather than shared between goroutines.
func fold(s string) string {
	if s == "" {
		return ""
	}
	return cases.Fold().String(norm.NFC.String(s))
}

// containsFolded reports whether the record's title or description contains
// an already-folded needle.
func containsFolded(r reminder.Record, needle string) bool {
	return strings.Contains(fold(r.Title), needle) || strings.Contains(fold(r.Description), needle)
}
