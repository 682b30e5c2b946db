package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/roach88/remindr/internal/probe"
	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
)

// NewInfoCommand creates the info command.
func NewInfoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Describe the selected storage tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			info, err := b.Info(ctx)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Print(b.Tier(), info, func(w io.Writer) error {
				return renderInfo(w, info)
			})
		},
	}
}

// NewHealthCommand creates the health command.
func NewHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run a save/read/delete round-trip on the selected tier",
		Long: `Run a save/read/delete round-trip on the selected tier.

Exits 1 when the tier is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			report := b.HealthCheck(ctx)
			if err := opts.formatter(cmd).Print(b.Tier(), report, func(w io.Writer) error {
				return renderHealth(w, report)
			}); err != nil {
				return err
			}
			if !report.Healthy {
				return NewExitError(ExitFailure, fmt.Sprintf("%s tier unhealthy: %s", report.TierName, report.Detail))
			}
			return nil
		},
	}
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Test which storage tiers work on this host",
		Long: `Test which storage tiers work on this host and print recommendations.

The durable tier is checked by creating a throwaway database in the data
directory; the flat tier by a write, read-back and quota estimate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := opts.selector.Report(cmd.Context())
			return opts.formatter(cmd).Print("", report, func(w io.Writer) error {
				return renderProbe(w, report)
			})
		},
	}
}

// schemaTypes are the documents the schema command describes.
var schemaTypes = map[string]any{
	"envelope":    query.Envelope{},
	"record":      reminder.Record{},
	"filter":      query.Filter{},
	"info":        storage.Info{},
	"probe":       probe.Report{},
	"preferences": reminder.Preferences{},
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(opts *RootOptions) *cobra.Command {
	names := sortedKeys(schemaTypes)

	return &cobra.Command{
		Use:       "schema [type]",
		Short:     "Print the JSON Schema of a document",
		Long:      fmt.Sprintf("Print the JSON Schema of a document type. Types: %v (default envelope).", names),
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "envelope"
			if len(args) == 1 {
				name = args[0]
			}
			if !slices.Contains(names, name) {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown schema type %q: must be one of %v", name, names))
			}

			// Inline properties (no $ref) keep the output self-contained.
			r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
			schema := r.Reflect(schemaTypes[name])

			data, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return fmt.Errorf("encode schema: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
