package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
)

// PrepareSave applies defaults, canonicalizes text, validates and stamps r
// for insertion. It performs no I/O, so tiers call it before touching their
// engine.
//
// A missing id is generated with ids. CreatedAt and UpdatedAt are both set
// to now; tiers replacing an existing record call KeepCreated afterwards.
func PrepareSave(r reminder.Record, ids reminder.IDGenerator, now time.Time) (reminder.Record, error) {
	out := canonicalize(r)
	if out.ID != "" {
		if err := ValidateID("save", out.ID); err != nil {
			return reminder.Record{}, err
		}
	}
	if err := ValidateRecord("save", out); err != nil {
		return reminder.Record{}, err
	}

	now = reminder.Normalize(now)
	if out.ID == "" {
		out.ID = ids.NewID()
	}
	out.CreatedAt = now
	out.UpdatedAt = now
	stampStatus(&out, now)
	return out, nil
}

// KeepCreated carries CreatedAt over from the record being replaced. Saving
// over another owner's record is rejected.
func KeepCreated(prepared reminder.Record, existing reminder.Record) (reminder.Record, error) {
	if existing.Owner != prepared.Owner {
		return reminder.Record{}, NewValidationError("save", fmt.Sprintf("id %q is already in use", prepared.ID), nil)
	}
	prepared.CreatedAt = existing.CreatedAt
	return prepared, nil
}

// ValidatePatch checks the fields p sets without needing the stored record.
// An empty patch is valid and only refreshes UpdatedAt.
func ValidatePatch(p reminder.Patch) error {
	if p.IsEmpty() {
		return nil
	}
	placeholder := reminder.Record{
		Owner:    "placeholder",
		Title:    "placeholder",
		Due:      time.Unix(0, 0),
		Category: reminder.CategoryPersonal,
		Priority: reminder.PriorityDefault,
		Status:   reminder.StatusActive,
	}
	merged := canonicalize(p.Apply(placeholder, time.Unix(0, 0)))
	return ValidateRecord("update", merged)
}

// ApplyPatch merges p into existing, validates the result and refreshes
// UpdatedAt.
func ApplyPatch(existing reminder.Record, p reminder.Patch, now time.Time) (reminder.Record, error) {
	now = reminder.Normalize(now)
	out := canonicalize(p.Apply(existing, now))
	if err := ValidateRecord("update", out); err != nil {
		return reminder.Record{}, err
	}
	out.UpdatedAt = now
	return out, nil
}

// PromoteOverdue flips r to overdue when it is active and past due. It
// reports whether r changed so the tier knows to persist it.
func PromoteOverdue(r *reminder.Record, now time.Time) bool {
	if !r.IsOverdue(now) {
		return false
	}
	r.Status = reminder.StatusOverdue
	r.UpdatedAt = reminder.Normalize(now)
	return true
}

// Import is a validated, re-owned envelope ready to be written.
type Import struct {
	Records     []reminder.Record
	Preferences *reminder.Preferences
	Metadata    []reminder.MetadataEntry
}

// PrepareImport validates every record of env and re-owns it under owner
// with a fresh id. Either all records pass or nothing is returned.
func PrepareImport(env query.Envelope, owner string, ids reminder.IDGenerator, now time.Time) (Import, error) {
	if err := ValidateOwner("import", owner); err != nil {
		return Import{}, err
	}
	if err := query.CheckVersion(env.Version); err != nil {
		return Import{}, &Error{Code: CodeValidation, Op: "import", Message: "unreadable envelope", Err: err}
	}
	now = reminder.Normalize(now)

	records := make([]reminder.Record, 0, len(env.Data.Records))
	for i, r := range env.Data.Records {
		out := canonicalize(r)
		out.Owner = owner
		if err := ValidateRecord("import", out); err != nil {
			se := err.(*Error)
			se.Message = fmt.Sprintf("invalid record at index %d", i)
			return Import{}, se
		}
		out.ID = ids.NewID()
		if out.CreatedAt.IsZero() {
			out.CreatedAt = now
		}
		out.UpdatedAt = now
		stampStatus(&out, now)
		records = append(records, out)
	}

	imp := Import{Records: records, Metadata: make([]reminder.MetadataEntry, 0, len(env.Data.Metadata))}
	if p := env.Data.Preferences; p != nil {
		prefs, err := PreparePreferences(reminder.Preferences{Owner: owner, Settings: p.Settings}, now)
		if err != nil {
			return Import{}, err
		}
		imp.Preferences = &prefs
	}
	for _, m := range env.Data.Metadata {
		entry, err := PrepareMetadata(m.Key, m.Value, now)
		if err != nil {
			return Import{}, err
		}
		if !m.Timestamp.IsZero() {
			entry.Timestamp = reminder.Normalize(m.Timestamp)
		}
		imp.Metadata = append(imp.Metadata, entry)
	}
	return imp, nil
}

// PreparePreferences validates p and stamps UpdatedAt. Settings are deep
// copied through JSON so every tier stores exactly what it would return
// after a serialization round-trip.
func PreparePreferences(p reminder.Preferences, now time.Time) (reminder.Preferences, error) {
	if err := ValidateOwner("savePreferences", p.Owner); err != nil {
		return reminder.Preferences{}, err
	}
	settings := map[string]any{}
	if p.Settings != nil {
		if err := jsonCopy(p.Settings, &settings); err != nil {
			return reminder.Preferences{}, &Error{Code: CodeValidation, Op: "savePreferences", Message: "settings are not JSON-serializable", Err: err}
		}
	}
	return reminder.Preferences{Owner: p.Owner, Settings: settings, UpdatedAt: reminder.Normalize(now)}, nil
}

// PrepareMetadata validates key and normalizes value the same way
// PreparePreferences does.
func PrepareMetadata(key string, value any, now time.Time) (reminder.MetadataEntry, error) {
	if err := ValidateMetadataKey("saveMetadata", key); err != nil {
		return reminder.MetadataEntry{}, err
	}
	var v any
	if err := jsonCopy(value, &v); err != nil {
		return reminder.MetadataEntry{}, &Error{Code: CodeValidation, Op: "saveMetadata", Message: "value is not JSON-serializable", Err: err}
	}
	return reminder.MetadataEntry{Key: key, Value: v, Timestamp: reminder.Normalize(now)}, nil
}

func jsonCopy(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// canonicalize applies defaults and normalizes text and timestamps.
func canonicalize(r reminder.Record) reminder.Record {
	out := r.Clone()
	out.Title = canonicalText(out.Title)
	out.Description = canonicalText(out.Description)
	if out.Category == "" {
		out.Category = reminder.CategoryPersonal
	}
	if out.Status == "" {
		out.Status = reminder.StatusActive
	}
	if out.Priority == 0 {
		out.Priority = reminder.PriorityDefault
	}
	if out.AlertOffsets == nil {
		out.AlertOffsets = []int{}
	}
	out.Due = reminder.Normalize(out.Due)
	out.CreatedAt = reminder.Normalize(out.CreatedAt)
	out.UpdatedAt = reminder.Normalize(out.UpdatedAt)
	out.CompletedAt = reminder.NormalizePtr(out.CompletedAt)
	out.SnoozedAt = reminder.NormalizePtr(out.SnoozedAt)
	return out
}

func stampStatus(r *reminder.Record, now time.Time) {
	switch r.Status {
	case reminder.StatusCompleted:
		if r.CompletedAt == nil {
			r.CompletedAt = &now
		}
	case reminder.StatusSnoozed:
		if r.SnoozedAt == nil {
			r.SnoozedAt = &now
		}
	}
}
