package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/remindr/internal/storage"
)

// timeLayouts are accepted for --due, --from and --to, in order. Times
// without a zone are UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime parses an absolute time or a "+duration" offset from now.
func parseTime(flag, value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return time.Time{}, invalidFlag(flag, value, "expected +duration such as +2h")
		}
		return now.Add(d), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalidFlag(flag, value, "expected RFC 3339, YYYY-MM-DD[ HH:MM] or +duration")
}

func invalidFlag(flag, value, hint string) error {
	return storage.NewValidationError("parse flags", fmt.Sprintf("invalid --%s %q", flag, value), map[string]string{flag: hint})
}

// parseSetting splits key=value. The value is decoded as JSON when it is
// valid JSON and kept as a string otherwise.
func parseSetting(arg string) (string, any, error) {
	key, raw, ok := strings.Cut(arg, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, storage.NewValidationError("prefs set", fmt.Sprintf("invalid setting %q", arg), map[string]string{"setting": "expected key=value"})
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return key, raw, nil
	}
	return key, v, nil
}
