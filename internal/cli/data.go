package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
)

// Metadata keys stamped by export and import.
const (
	MetaLastExport = "lastExport"
	MetaLastImport = "lastImport"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the owner's reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			stats, err := retry(ctx, opts, func(ctx context.Context) (query.Statistics, error) {
				return b.Statistics(ctx, opts.cfg.Owner)
			})
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Print(b.Tier(), stats, func(w io.Writer) error {
				return renderStats(w, stats)
			})
		},
	}
}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export reminders, preferences and metadata",
		Long: `Export the owner's reminders and preferences plus all metadata as a
JSON envelope. The envelope imports into any storage tier.

Examples:
  remindr export > backup.json
  remindr export --output backup.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the envelope to this file instead of stdout")

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, cmd *cobra.Command) error {
	b, err := opts.backend(ctx)
	if err != nil {
		return err
	}
	env, err := retry(ctx, opts.RootOptions, func(ctx context.Context) (query.Envelope, error) {
		return b.ExportAll(ctx, opts.cfg.Owner)
	})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	data = append(data, '\n')

	out := opts.formatter(cmd)
	if opts.Output == "" {
		if _, err := out.Writer.Write(data); err != nil {
			return err
		}
	} else if err := atomic.WriteFile(opts.Output, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	stamp := map[string]any{"records": len(env.Data.Records), "tier": env.TierName}
	if _, err := b.SaveMetadata(ctx, MetaLastExport, stamp); err != nil {
		opts.logger().Warn("record export metadata", "error", err)
	}

	if opts.Output == "" {
		return nil
	}
	result := map[string]any{"path": opts.Output, "records": len(env.Data.Records)}
	return out.Print(b.Tier(), result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Exported %d reminder(s) to %s\n", len(env.Data.Records), opts.Output)
		return err
	})
}

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Import an exported envelope",
		Long: `Import reminders and preferences from an export envelope. Every record
gets a new id and belongs to the current owner. Nothing is written when any
record is invalid. Comments and trailing commas are accepted.

Examples:
  remindr import backup.json
  cat backup.json | remindr import -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readInput(cmd, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read import", err)
			}
			env, err := query.ParseEnvelope(data)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid envelope", err)
			}

			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			n, err := b.ImportAll(ctx, env, opts.cfg.Owner)
			if err != nil {
				return err
			}

			stamp := map[string]any{"records": n, "source": env.TierName, "version": env.Version}
			if _, err := b.SaveMetadata(ctx, MetaLastImport, stamp); err != nil {
				opts.logger().Warn("record import metadata", "error", err)
			}

			result := map[string]any{"imported": n}
			return opts.formatter(cmd).Print(b.Tier(), result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Imported %d reminder(s)\n", n)
				return err
			})
		},
	}
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

// NewClearCommand creates the clear command.
func NewClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all of the owner's reminders and preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "clear deletes every reminder of the owner: pass --yes to confirm")
			}
			ctx := cmd.Context()
			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			n, err := b.Clear(ctx, opts.cfg.Owner)
			if err != nil {
				return err
			}
			result := map[string]any{"deleted": n}
			return opts.formatter(cmd).Print(b.Tier(), result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Cleared %d reminder(s)\n", n)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")

	return cmd
}

// NewPrefsCommand creates the prefs command group.
func NewPrefsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change the owner's preferences",
	}
	cmd.AddCommand(newPrefsGetCommand(opts), newPrefsSetCommand(opts))
	return cmd
}

func newPrefsGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			p, err := retry(ctx, opts, func(ctx context.Context) (*reminder.Preferences, error) {
				return b.GetPreferences(ctx, opts.cfg.Owner)
			})
			if err != nil {
				return err
			}
			if p == nil {
				p = &reminder.Preferences{Owner: opts.cfg.Owner, Settings: map[string]any{}}
			}
			return opts.formatter(cmd).Print(b.Tier(), p, func(w io.Writer) error {
				return renderSettings(w, p.Settings)
			})
		},
	}
}

func newPrefsSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Change preferences",
		Long: `Change preferences. Values are parsed as JSON when possible and stored
as strings otherwise. Other settings are kept.

Example:
  remindr prefs set theme=dark defaultAlerts='[15,60]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates := make(map[string]any, len(args))
			for _, arg := range args {
				key, value, err := parseSetting(arg)
				if err != nil {
					return err
				}
				updates[key] = value
			}

			ctx := cmd.Context()
			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			current, err := b.GetPreferences(ctx, opts.cfg.Owner)
			if err != nil {
				return err
			}
			settings := map[string]any{}
			if current != nil {
				maps.Copy(settings, current.Settings)
			}
			maps.Copy(settings, updates)

			saved, err := b.SavePreferences(ctx, reminder.Preferences{Owner: opts.cfg.Owner, Settings: settings})
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Print(b.Tier(), saved, func(w io.Writer) error {
				return renderSettings(w, saved.Settings)
			})
		},
	}
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
