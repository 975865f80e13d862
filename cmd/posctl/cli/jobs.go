package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/jobs"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for the sync job queue.
type JobsCLI struct {
	client    taskEnqueuer
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerStore enqueues an immediate pass for one store. The manual reason
// lets the pass ignore backoff.
func (c *JobsCLI) TriggerStore(ctx context.Context, storeID string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewSyncStoreTask(storeID, "manual")
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// TriggerSweep enqueues a sweep over every store with queued sales.
func (c *JobsCLI) TriggerSweep(ctx context.Context) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewSyncSweepTask()
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the sync queue counters.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueSync)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueSync}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
		stats.Archived = int(info.Archived)
	}
	return stats, nil
}

// ListScheduled returns delayed sync passes, typically backoff retries.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueSync, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCommand(opts *RootOptions, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Drive the sync job queue",
	}

	withJobs := func(run func(*cobra.Command, *JobsCLI) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			c, err := deps.OpenJobs(opts)
			if err != nil {
				return WrapExitError(ExitCommandError, "connect job queue", err)
			}
			defer func() { _ = c.Close() }()
			return run(cmd, c)
		}
	}

	var storeID string
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Enqueue a sync pass for a store",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI) error {
			if storeID == "" {
				return NewExitError(ExitCommandError, "--store is required")
			}
			info, err := c.TriggerStore(cmd.Context(), storeID)
			if err != nil {
				return WrapExitError(ExitCommandError, "enqueue sync", err)
			}
			return printEnqueued(cmd, opts, info)
		}),
	}
	syncCmd.Flags().StringVar(&storeID, "store", "", "store id")
	cmd.AddCommand(syncCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Enqueue a sweep over every store with queued sales",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI) error {
			info, err := c.TriggerSweep(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "enqueue sweep", err)
			}
			return printEnqueued(cmd, opts, info)
		}),
	})

	var size int
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show sync queue counters and scheduled retries",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI) error {
			stats, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "inspect queue", err)
			}
			scheduled, err := c.ListScheduled(cmd.Context(), size)
			if err != nil {
				return WrapExitError(ExitCommandError, "list scheduled", err)
			}
			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				ids := make([]string, 0, len(scheduled))
				for _, t := range scheduled {
					ids = append(ids, t.ID)
				}
				return writeJSON(out, map[string]any{"stats": stats, "scheduled": ids})
			}
			_, _ = fmt.Fprintf(out, "queue %s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			for _, t := range scheduled {
				_, _ = fmt.Fprintf(out, "  %s %s at %s\n", t.ID, t.Type, t.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"))
			}
			return nil
		}),
	}
	inspect.Flags().IntVar(&size, "limit", 10, "scheduled tasks to show")
	cmd.AddCommand(inspect)

	return cmd
}

func printEnqueued(cmd *cobra.Command, opts *RootOptions, info *asynq.TaskInfo) error {
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]string{"task_id": info.ID, "type": info.Type, "queue": info.Queue})
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s (%s) on %s.\n", info.Type, info.ID, info.Queue)
	return nil
}
