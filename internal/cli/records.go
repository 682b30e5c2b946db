package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/remindr/internal/query"
	"github.com/roach88/remindr/internal/reminder"
	"github.com/roach88/remindr/internal/storage"
)

// recordFlags holds the flags shared by add and update.
type recordFlags struct {
	Title       string
	Description string
	Due         string
	Category    string
	Priority    int
	Status      string
	Notify      bool
	Alerts      []int
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Title, "title", "t", "", "reminder title")
	cmd.Flags().StringVarP(&f.Description, "description", "d", "", "longer description")
	cmd.Flags().StringVar(&f.Due, "due", "", "due time (RFC 3339, YYYY-MM-DD[ HH:MM] or +duration)")
	cmd.Flags().StringVarP(&f.Category, "category", "c", string(reminder.CategoryPersonal), "category (personal|work|health|finance|social|other)")
	cmd.Flags().IntVarP(&f.Priority, "priority", "p", reminder.PriorityDefault, "priority 1 (low) to 4 (urgent)")
	cmd.Flags().StringVar(&f.Status, "status", string(reminder.StatusActive), "status (active|completed|overdue|cancelled|snoozed)")
	cmd.Flags().BoolVar(&f.Notify, "notify", true, "send alerts")
	cmd.Flags().IntSliceVar(&f.Alerts, "alert", []int{15}, "alert offsets in minutes before due (repeatable)")
}

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	recordFlags
	ID string
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a reminder",
		Long: `Add a reminder, or replace one when --id names an existing reminder.

Example:
  remindr add --title "Pay rent" --due 2025-04-01 --category finance --priority 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd.Context(), opts, cmd)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.ID, "id", "", "explicit id (replaces an existing reminder)")

	return cmd
}

func runAdd(ctx context.Context, opts *AddOptions, cmd *cobra.Command) error {
	r := reminder.Record{
		ID:           opts.ID,
		Owner:        opts.cfg.Owner,
		Title:        opts.Title,
		Description:  opts.Description,
		Category:     reminder.Category(opts.Category),
		Priority:     opts.Priority,
		Status:       reminder.Status(opts.Status),
		Notify:       opts.Notify,
		AlertOffsets: opts.Alerts,
	}
	if opts.Due != "" {
		due, err := parseTime("due", opts.Due, opts.Clock.Now())
		if err != nil {
			return err
		}
		r.Due = due
	}

	b, err := opts.backend(ctx)
	if err != nil {
		return err
	}
	saved, err := b.Save(ctx, r)
	if err != nil {
		return err
	}

	return opts.formatter(cmd).Print(b.Tier(), saved, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Saved %s\n", saved.ID)
		return err
	})
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Status   string
	Category string
	Priority int
	From     string
	To       string
	Search   string
	Sort     string
	Dir      string
	Limit    int
	Offset   int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		Long: `List the owner's reminders, filtered, sorted and paged.

Example:
  remindr list --status active --sort priority --dir desc --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "only this status")
	cmd.Flags().StringVar(&opts.Category, "category", "", "only this category")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "only this priority")
	cmd.Flags().StringVar(&opts.From, "from", "", "due at or after")
	cmd.Flags().StringVar(&opts.To, "to", "", "due at or before")
	cmd.Flags().StringVarP(&opts.Search, "search", "s", "", "text in title or description")
	cmd.Flags().StringVar(&opts.Sort, "sort", string(query.SortByDue), "sort key (due|priority|createdAt|updatedAt|title)")
	cmd.Flags().StringVar(&opts.Dir, "dir", string(query.Asc), "sort direction (asc|desc)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum results (0 = all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "results to skip")

	return cmd
}

func (opts *ListOptions) filter() (query.Filter, error) {
	f := query.Filter{
		Status:   reminder.Status(opts.Status),
		Category: reminder.Category(opts.Category),
		Priority: opts.Priority,
		Search:   opts.Search,
		SortBy:   query.SortKey(opts.Sort),
		Dir:      query.Direction(opts.Dir),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	now := opts.Clock.Now()
	var err error
	if opts.From != "" {
		if f.DueFrom, err = parseTime("from", opts.From, now); err != nil {
			return query.Filter{}, err
		}
	}
	if opts.To != "" {
		if f.DueTo, err = parseTime("to", opts.To, now); err != nil {
			return query.Filter{}, err
		}
	}
	return f, nil
}

func runList(ctx context.Context, opts *ListOptions, cmd *cobra.Command) error {
	f, err := opts.filter()
	if err != nil {
		return err
	}
	b, err := opts.backend(ctx)
	if err != nil {
		return err
	}
	records, err := retry(ctx, opts.RootOptions, func(ctx context.Context) ([]reminder.Record, error) {
		return b.List(ctx, opts.cfg.Owner, f)
	})
	if err != nil {
		return err
	}

	return opts.formatter(cmd).Print(b.Tier(), records, func(w io.Writer) error {
		return renderRecords(w, records)
	})
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			r, err := retry(ctx, opts, func(ctx context.Context) (*reminder.Record, error) {
				return b.GetByID(ctx, args[0])
			})
			if err != nil {
				return err
			}
			if r == nil || r.Owner != opts.cfg.Owner {
				return storage.NewNotFoundError("show", args[0])
			}
			return opts.formatter(cmd).Print(b.Tier(), r, func(w io.Writer) error {
				return renderRecord(w, *r)
			})
		},
	}
}

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	recordFlags
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a reminder",
		Long: `Change fields of a reminder. Only the flags given are changed.

Example:
  remindr update 0195a3c0-... --status completed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), opts, cmd, args[0])
		},
	}

	opts.register(cmd)

	return cmd
}

// patch builds a patch from the flags the user actually set.
func (opts *UpdateOptions) patch(cmd *cobra.Command) (reminder.Patch, error) {
	var p reminder.Patch
	changed := cmd.Flags().Changed
	if changed("title") {
		p.Title = reminder.Ptr(opts.Title)
	}
	if changed("description") {
		p.Description = reminder.Ptr(opts.Description)
	}
	if changed("due") {
		due, err := parseTime("due", opts.Due, opts.Clock.Now())
		if err != nil {
			return reminder.Patch{}, err
		}
		p.Due = &due
	}
	if changed("category") {
		p.Category = reminder.Ptr(reminder.Category(opts.Category))
	}
	if changed("priority") {
		p.Priority = reminder.Ptr(opts.Priority)
	}
	if changed("status") {
		p.Status = reminder.Ptr(reminder.Status(opts.Status))
	}
	if changed("notify") {
		p.Notify = reminder.Ptr(opts.Notify)
	}
	if changed("alert") {
		p.AlertOffsets = reminder.Ptr(opts.Alerts)
	}
	return p, nil
}

func runUpdate(ctx context.Context, opts *UpdateOptions, cmd *cobra.Command, id string) error {
	p, err := opts.patch(cmd)
	if err != nil {
		return err
	}
	if p.IsEmpty() {
		return NewExitError(ExitCommandError, "nothing to update: pass at least one field flag")
	}

	b, err := opts.backend(ctx)
	if err != nil {
		return err
	}
	existing, err := b.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil || existing.Owner != opts.cfg.Owner {
		return storage.NewNotFoundError("update", id)
	}
	updated, err := b.Update(ctx, id, p)
	if err != nil {
		return err
	}

	return opts.formatter(cmd).Print(b.Tier(), updated, func(w io.Writer) error {
		return renderRecord(w, updated)
	})
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			existing, err := b.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			if existing == nil || existing.Owner != opts.cfg.Owner {
				return storage.NewNotFoundError("delete", args[0])
			}
			deleted, err := b.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			result := map[string]any{"id": args[0], "deleted": deleted}
			return opts.formatter(cmd).Print(b.Tier(), result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Deleted %s\n", args[0])
				return err
			})
		},
	}
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(opts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every reminder with a status",
		Long: `Delete every reminder of the owner with the given status.

Example:
  remindr purge --status completed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := opts.backend(ctx)
			if err != nil {
				return err
			}
			n, err := b.DeleteByStatus(ctx, opts.cfg.Owner, reminder.Status(status))
			if err != nil {
				return err
			}
			result := map[string]any{"status": status, "deleted": n}
			return opts.formatter(cmd).Print(b.Tier(), result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Deleted %d %s reminder(s)\n", n, status)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", string(reminder.StatusCompleted), "status to purge")

	return cmd
}
