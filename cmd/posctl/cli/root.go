// Package cli implements posctl, the operator tool for the offline sale
// queue and the sync job queue.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	Database  string
	RedisAddr string
	Format    string // "text" | "json"
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// Deps lets tests replace the collaborators opened from flags.
type Deps struct {
	OpenQueue func(opts *RootOptions) (QueueOps, func() error, error)
	OpenJobs  func(opts *RootOptions) (*JobsCLI, error)
}

// NewRootCommand builds the posctl command tree. Defaults come from the
// agent's configuration so posctl sees the same queue file.
func NewRootCommand(defaults RootOptions, deps Deps) *cobra.Command {
	opts := &defaults
	if opts.Format == "" {
		opts.Format = "text"
	}
	if deps.OpenQueue == nil {
		deps.OpenQueue = openSQLiteQueue
	}
	if deps.OpenJobs == nil {
		deps.OpenJobs = func(opts *RootOptions) (*JobsCLI, error) {
			return NewJobsCLI(opts.RedisAddr)
		}
	}

	cmd := &cobra.Command{
		Use:           "posctl",
		Short:         "Inspect and repair the POS offline sale queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", opts.Database, "path to the agent's SQLite queue")
	cmd.PersistentFlags().StringVar(&opts.RedisAddr, "redis", opts.RedisAddr, "Redis address of the job queue")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", opts.Format, "output format (json|text)")

	cmd.AddCommand(newQueueCommand(opts, deps))
	cmd.AddCommand(newJobsCommand(opts, deps))
	return cmd
}
