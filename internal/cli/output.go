package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/remindr/internal/storage"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a tier is unhealthy or a storage operation failed
	ExitCommandError = 2 // bad flags, invalid input or an unreadable config
)

// ExitError carries the exit code a command fails with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Validation errors count as
// command errors.
func GetExitCode(err error) int {
	if exitErr := (*ExitError)(nil); errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if storage.IsValidation(err) {
		return ExitCommandError
	}
	return ExitFailure
}

// ErrorCode returns the code reported for err: the storage error code when
// there is one, else "CommandError".
func ErrorCode(err error) string {
	if code := storage.CodeOf(err); code != "" {
		return string(code)
	}
	return "CommandError"
}

// OutputFormatter renders command results as text or as one JSON response
// per command.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool

	// ErrWriter receives verbose lines so they stay out of JSON output.
	// Nil means Writer.
	ErrWriter io.Writer
}

// CLIResponse is the JSON envelope every command writes with --format json.
type CLIResponse struct {
	Status string    `json:"status"` // ok | error
	Tier   string    `json:"tier,omitempty"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed command in a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success prints data, using its default formatting in text mode.
func (f *OutputFormatter) Success(data any) error {
	return f.Print("", data, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, data)
		return err
	})
}

// Print outputs data as a JSON response, or calls text to render it for
// humans. tier is included in the JSON response when set.
func (f *OutputFormatter) Print(tier string, data any, text func(w io.Writer) error) error {
	if f.Format != "json" {
		return text(f.Writer)
	}
	return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Tier: tier, Data: data})
}

// Error reports a failed command. Details only appear in text mode when
// verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		_, err := fmt.Fprintf(f.Writer, "Details: %v\n", details)
		return err
	}
	return nil
}

// VerboseLog writes one diagnostic line when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.errWriter(), format+"\n", args...)
	}
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter == nil {
		return f.Writer
	}
	return f.ErrWriter
}
