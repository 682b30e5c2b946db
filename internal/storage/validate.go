package storage

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
)

// MaxMetadataKeyLen bounds metadata keys.
const MaxMetadataKeyLen = 256

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names so errors match the wire format.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister("owner", func(fl validator.FieldLevel) bool {
		return validOwner(fl.Field().String())
	})
	mustRegister("category", func(fl validator.FieldLevel) bool {
		return reminder.Category(fl.Field().String()).Valid()
	})
	mustRegister("status", func(fl validator.FieldLevel) bool {
		return reminder.Status(fl.Field().String()).Valid()
	})
}

func mustRegister(tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

func validOwner(s string) bool {
	if strings.TrimSpace(s) == "" || utf8.RuneCountInString(s) > reminder.MaxOwnerLen {
		return false
	}
	return !strings.ContainsFunc(s, unicode.IsControl)
}

// ValidateRecord checks r's shape. It does not apply defaults; call
// PrepareSave for the full save pipeline.
func ValidateRecord(op string, r reminder.Record) error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return NewValidationError(op, err.Error(), nil)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = describe(fe)
	}
	return NewValidationError(op, "invalid record", fields)
}

// fieldPath strips the leading struct name: "Record.alertOffsets[0]"
// becomes "alertOffsets[0]".
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "owner":
		return fmt.Sprintf("must be 1-%d printable characters", reminder.MaxOwnerLen)
	case "category":
		return fmt.Sprintf("must be one of %v", reminder.Categories)
	case "status":
		return fmt.Sprintf("must be one of %v", reminder.Statuses)
	default:
		return "failed " + fe.Tag()
	}
}

// ValidateOwner checks an owner scope argument.
func ValidateOwner(op, owner string) error {
	if !validOwner(owner) {
		return NewValidationError(op, "invalid owner", map[string]string{
			"owner": fmt.Sprintf("must be 1-%d printable characters", reminder.MaxOwnerLen),
		})
	}
	return nil
}

// ValidateID checks a record identifier argument.
func ValidateID(op, id string) error {
	if strings.TrimSpace(id) == "" || utf8.RuneCountInString(id) > reminder.MaxIDLen || strings.ContainsFunc(id, unicode.IsControl) {
		return NewValidationError(op, "invalid id", map[string]string{
			"id": fmt.Sprintf("must be 1-%d printable characters", reminder.MaxIDLen),
		})
	}
	return nil
}

// ValidateStatus checks a status argument.
func ValidateStatus(op string, s reminder.Status) error {
	if !s.Valid() {
		return NewValidationError(op, fmt.Sprintf("unknown status %q", s), nil)
	}
	return nil
}

// ValidateFilter checks a listing filter.
func ValidateFilter(op string, f query.Filter) error {
	if err := f.Validate(); err != nil {
		return &Error{Code: CodeValidation, Op: op, Message: "invalid filter", Err: err}
	}
	return nil
}

// ValidateMetadataKey checks a metadata key.
func ValidateMetadataKey(op, key string) error {
	if key == "" || len(key) > MaxMetadataKeyLen {
		return NewValidationError(op, "invalid metadata key", map[string]string{
			"key": fmt.Sprintf("must be 1-%d bytes", MaxMetadataKeyLen),
		})
	}
	return nil
}

// canonicalText trims surrounding whitespace and converts to NFC so equal
// titles compare equal regardless of how they were typed.
func canonicalText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
