package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/courier/internal/queue"
	"github.com/roach88/courier/internal/store"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

// StoreOptions holds flags of commands that open the store.
type StoreOptions struct {
	*RootOptions
	Database string
}

func (o *StoreOptions) open(cmd *cobra.Command) (*store.Store, error) {
	path := o.storePath(o.Database)
	o.formatter(cmd).VerboseLog("opening store %s", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func addDatabaseFlag(cmd *cobra.Command, opts *StoreOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: store.path from config)")
}

// MigrateResult is the output of the migrate command.
type MigrateResult struct {
	SchemaVersion int `json:"schema_version"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Long: `Open the store, creating it if needed, and apply pending schema migrations.

Examples:
  courier migrate --db ./courier.db
  courier migrate --config ./courier.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts, cmd)
		},
	}
	addDatabaseFlag(cmd, opts)
	return cmd
}

func runMigrate(ctx context.Context, opts *StoreOptions, cmd *cobra.Command) error {
	st, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.SchemaVersion(ctxOrBackground(ctx))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schema version", err)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(MigrateResult{SchemaVersion: version})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
	return nil
}

// NewQueuesCommand creates the queues command.
func NewQueuesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queues",
		Short: "Show the depth of every outbound queue",
		Long: `Show how many records wait in each durable queue, whether a push token
update is pending, and when each timed task is due.

Examples:
  courier queues --db ./courier.db
  courier queues --db ./courier.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueues(cmd.Context(), opts, cmd)
		},
	}
	addDatabaseFlag(cmd, opts)
	return cmd
}

func runQueues(ctx context.Context, opts *StoreOptions, cmd *cobra.Command) error {
	st, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := queue.CollectStats(ctxOrBackground(ctx), st.DB())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read queues", err)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(stats)
	}
	writeStats(cmd.OutOrStdout(), stats)
	return nil
}

func writeStats(w io.Writer, s *queue.Stats) {
	push := "idle"
	if s.PushTokenPending {
		push = "pending"
	}
	fmt.Fprintf(w, "%-20s%d\n", "chat messages:", s.ChatMessages)
	fmt.Fprintf(w, "%-20s%d\n", "receipts:", s.Receipts)
	fmt.Fprintf(w, "%-20s%d (%d waiting)\n", "pending operations:", s.PendingOperations, s.WaitingOperations)
	fmt.Fprintf(w, "%-20s%s\n", "push token:", push)
	if len(s.TimedTasks) == 0 {
		fmt.Fprintf(w, "%-20s%s\n", "timed tasks:", "none")
		return
	}
	fmt.Fprintln(w, "timed tasks:")
	for _, task := range s.TimedTasks {
		fmt.Fprintf(w, "  %-20s due %s\n", task.Kind, task.DueAt.UTC().Format(time.RFC3339))
	}
}

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	StoreOptions
	At string
	In time.Duration
}

// ScheduleResult is the output of the schedule command.
type ScheduleResult struct {
	Task  queue.TaskKind `json:"task"`
	DueAt time.Time      `json:"due_at"`
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "schedule <task>",
		Short: "Reschedule a timed task",
		Long: `Set the due date of a timed task. Without --at or --in the task is due now
and runs on the next outbound pass.

Tasks:
  key-package-upload   replenish the key packages published for this client

Examples:
  courier schedule key-package-upload --db ./courier.db
  courier schedule key-package-upload --in 24h
  courier schedule key-package-upload --at 2026-03-01T12:00:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), opts, cmd, args[0])
		},
	}
	addDatabaseFlag(cmd, &opts.StoreOptions)
	cmd.Flags().StringVar(&opts.At, "at", "", "due time (RFC 3339)")
	cmd.Flags().DurationVar(&opts.In, "in", 0, "due after this duration from now")
	cmd.MarkFlagsMutuallyExclusive("at", "in")
	return cmd
}

func parseTaskKind(name string) (queue.TaskKind, error) {
	kind := queue.TaskKind(strings.ReplaceAll(name, "-", "_"))
	switch kind {
	case queue.KeyPackageUpload:
		return kind, nil
	default:
		return "", NewExitError(ExitCommandError, fmt.Sprintf("unknown task %q", name))
	}
}

func runSchedule(ctx context.Context, opts *ScheduleOptions, cmd *cobra.Command, name string) error {
	ctx = ctxOrBackground(ctx)
	kind, err := parseTaskKind(name)
	if err != nil {
		return err
	}

	due := time.Now().Add(opts.In)
	if opts.At != "" {
		if due, err = time.Parse(time.RFC3339, opts.At); err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
	}

	st, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	err = st.WithImmediateTx(ctx, func(tx *sql.Tx) error {
		return queue.SetDueDate(ctx, tx, kind, due)
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to schedule task", err)
	}

	due = due.UTC()
	if opts.Format == "json" {
		return opts.formatter(cmd).Success(ScheduleResult{Task: kind, DueAt: due})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s at %s\n", kind, due.Format(time.RFC3339))
	return nil
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the courier version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(map[string]string{"version": Version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "courier %s\n", Version)
			return nil
		},
	}
}

// ctxOrBackground covers commands executed without ExecuteContext.
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
