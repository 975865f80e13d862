package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/localdb"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/offline"
)

// QueueOps is the subset of the offline queue posctl drives.
type QueueOps interface {
	ListPending(ctx context.Context, storeID string) ([]offline.QueuedSale, error)
	CountPending(ctx context.Context, storeID string) (int, error)
	Requeue(ctx context.Context, storeID, clientSaleID string) error
	Discard(ctx context.Context, storeID, clientSaleID string) error
	Purge(ctx context.Context, storeID string) (int64, error)
	Stores(ctx context.Context) ([]string, error)
}

func openSQLiteQueue(opts *RootOptions) (QueueOps, func() error, error) {
	if opts.Database == "" {
		return nil, nil, errors.New("--db is required")
	}
	db, err := localdb.Open(context.Background(), opts.Database)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return offline.NewQueue(offline.NewRepository(db), logger), db.Close, nil
}

type queueCommand struct {
	opts    *RootOptions
	deps    Deps
	storeID string
}

func newQueueCommand(opts *RootOptions, deps Deps) *cobra.Command {
	qc := &queueCommand{opts: opts, deps: deps}
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair queued sales",
	}
	cmd.PersistentFlags().StringVar(&qc.storeID, "store", "", "store id")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sales not yet confirmed by the backend, oldest first",
		Long: `List every sale of a store still held on this device.

Exit codes:
  0 - listed, no rejected sales
  1 - at least one sale was rejected by the backend and needs attention
  2 - command error`,
		Args: cobra.NoArgs,
		RunE: qc.withQueue(qc.list),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of queued sales",
		Args:  cobra.NoArgs,
		RunE:  qc.withQueue(qc.count),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stores",
		Short: "List stores that have queued sales",
		Args:  cobra.NoArgs,
		RunE:  qc.withQueue(qc.stores),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "requeue <client-sale-id>",
		Short: "Send a failed sale again on the next pass",
		Args:  cobra.ExactArgs(1),
		RunE: qc.withQueue(func(cmd *cobra.Command, q QueueOps, args []string) error {
			return qc.mutate(cmd, "requeued", args[0], q.Requeue)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "discard <client-sale-id>",
		Short: "Drop a failed sale from the device",
		Args:  cobra.ExactArgs(1),
		RunE: qc.withQueue(func(cmd *cobra.Command, q QueueOps, args []string) error {
			return qc.mutate(cmd, "discarded", args[0], q.Discard)
		}),
	})

	var confirm bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Drop every queued sale of a store that is not being sent",
		Args:  cobra.NoArgs,
		RunE: qc.withQueue(func(cmd *cobra.Command, q QueueOps, _ []string) error {
			if !confirm {
				return NewExitError(ExitCommandError, "purge deletes unsynced sales; pass --yes to confirm")
			}
			return qc.purge(cmd, q)
		}),
	}
	purge.Flags().BoolVar(&confirm, "yes", false, "confirm deletion")
	cmd.AddCommand(purge)

	return cmd
}

func (qc *queueCommand) withQueue(run func(*cobra.Command, QueueOps, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if cmd.Name() != "stores" && qc.storeID == "" {
			return NewExitError(ExitCommandError, "--store is required")
		}
		q, closeFn, err := qc.deps.OpenQueue(qc.opts)
		if err != nil {
			return WrapExitError(ExitCommandError, "open queue", err)
		}
		if closeFn != nil {
			defer func() { _ = closeFn() }()
		}
		return run(cmd, q, args)
	}
}

type queueRow struct {
	ClientSaleID  string     `json:"client_sale_id"`
	CreatedAt     time.Time  `json:"created_at"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempt_count"`
	Failure       string     `json:"failure_kind,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Total         int64      `json:"total"`
}

func (qc *queueCommand) list(cmd *cobra.Command, q QueueOps, _ []string) error {
	sales, err := q.ListPending(cmd.Context(), qc.storeID)
	if err != nil {
		return WrapExitError(ExitCommandError, "list queue", err)
	}
	rows := make([]queueRow, 0, len(sales))
	rejected := 0
	for _, s := range sales {
		row := queueRow{
			ClientSaleID: s.ClientSaleID,
			CreatedAt:    s.CreatedAt.UTC(),
			Status:       string(s.Status),
			Attempts:     s.AttemptCount,
			Failure:      string(s.FailureKind),
			LastError:    s.LastError,
			Total:        s.Totals().Total,
		}
		if !s.NextAttemptAt.IsZero() {
			next := s.NextAttemptAt.UTC()
			row.NextAttemptAt = &next
		}
		if s.Rejected() {
			rejected++
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	if qc.opts.Format == "json" {
		if err := writeJSON(out, map[string]any{"store_id": qc.storeID, "sales": rows, "rejected": rejected}); err != nil {
			return err
		}
	} else {
		renderQueue(out, qc.storeID, rows)
	}
	if rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d rejected sale(s) need attention", rejected))
	}
	return nil
}

func renderQueue(out io.Writer, storeID string, rows []queueRow) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintf(out, "No queued sales for store %s.\n", storeID)
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CLIENT SALE ID\tCREATED\tSTATUS\tATTEMPTS\tTOTAL\tERROR")
	for _, r := range rows {
		status := r.Status
		if r.Failure != "" {
			status += "/" + r.Failure
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ClientSaleID, r.CreatedAt.Format(time.RFC3339), status, r.Attempts, r.Total, r.LastError)
	}
	_ = tw.Flush()
}

func (qc *queueCommand) count(cmd *cobra.Command, q QueueOps, _ []string) error {
	n, err := q.CountPending(cmd.Context(), qc.storeID)
	if err != nil {
		return WrapExitError(ExitCommandError, "count queue", err)
	}
	if qc.opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"store_id": qc.storeID, "pending": n})
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func (qc *queueCommand) stores(cmd *cobra.Command, q QueueOps, _ []string) error {
	stores, err := q.Stores(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "list stores", err)
	}
	if qc.opts.Format == "json" {
		if stores == nil {
			stores = []string{}
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{"stores": stores})
	}
	for _, s := range stores {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), s)
	}
	return nil
}

func (qc *queueCommand) mutate(cmd *cobra.Command, verb, id string, fn func(context.Context, string, string) error) error {
	if err := fn(cmd.Context(), qc.storeID, id); err != nil {
		switch {
		case errors.Is(err, offline.ErrNotFound):
			return WrapExitError(ExitFailure, fmt.Sprintf("sale %s not queued for store %s", id, qc.storeID), err)
		case errors.Is(err, offline.ErrInvalidTransition):
			return WrapExitError(ExitFailure, fmt.Sprintf("sale %s is not in a failed state", id), err)
		default:
			return WrapExitError(ExitCommandError, "update queue", err)
		}
	}
	if qc.opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"client_sale_id": id, "result": verb})
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sale %s %s.\n", id, verb)
	return nil
}

func (qc *queueCommand) purge(cmd *cobra.Command, q QueueOps) error {
	n, err := q.Purge(cmd.Context(), qc.storeID)
	if err != nil {
		return WrapExitError(ExitCommandError, "purge queue", err)
	}
	if qc.opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"store_id": qc.storeID, "purged": n})
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d sale(s) from store %s.\n", n, qc.storeID)
	return nil
}
