package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"github.com/roach88/remindr/internal/reminder"
)

// ErrUnsupportedVersion reports an envelope whose major version this build
// cannot read.
var ErrUnsupportedVersion = errors.New("unsupported envelope version")

// Envelope is the export/import document. Its shape is identical for every
// tier so that data exported from one tier imports into any other.
type Envelope struct {
	Version    string       `json:"version"`
	Timestamp  time.Time    `json:"timestamp"`
	TierName   string       `json:"tierName"`
	Data       EnvelopeData `json:"data"`
	Statistics Statistics   `json:"statistics"`
}

// EnvelopeData is the payload of an Envelope.
type EnvelopeData struct {
	Records     []reminder.Record        `json:"records"`
	Preferences *reminder.Preferences    `json:"preferences"`
	Metadata    []reminder.MetadataEntry `json:"metadata"`
}

// BuildEnvelope assembles an export envelope. Statistics are computed from
// records as of now. Nil slices are replaced with empty ones so the JSON
// always carries arrays.
func BuildEnvelope(tier string, now time.Time, records []reminder.Record, prefs *reminder.Preferences, meta []reminder.MetadataEntry) Envelope {
	if records == nil {
		records = []reminder.Record{}
	}
	if meta == nil {
		meta = []reminder.MetadataEntry{}
	}
	return Envelope{
		Version:   reminder.EnvelopeVersion,
		Timestamp: reminder.Normalize(now),
		TierName:  tier,
		Data: EnvelopeData{
			Records:     records,
			Preferences: prefs,
			Metadata:    meta,
		},
		Statistics: Compute(records, now),
	}
}

// ParseEnvelope decodes an envelope. Besides standard JSON it accepts
// hand-edited backups with comments and trailing commas.
func ParseEnvelope(data []byte) (Envelope, error) {
	standard, err := hujson.Standardize(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(standard, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := CheckVersion(env.Version); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// CheckVersion accepts any version with the same major number as
// reminder.EnvelopeVersion.
func CheckVersion(v string) error {
	want, _, _ := strings.Cut(reminder.EnvelopeVersion, ".")
	got, _, _ := strings.Cut(v, ".")
	if got != want {
		return fmt.Errorf("%w: %q (want %s.x)", ErrUnsupportedVersion, v, want)
	}
	return nil
}
