// Package history merges queued sales with the backend's sale list into the
// view the cashier scrolls through.
package history

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-pos/internal/pos/offline"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
)

// StatusPendingOffline marks rows that exist only on this device.
const StatusPendingOffline = "PENDING_OFFLINE"

// Source says where a row came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Range bounds the remote listing. Queued sales are always shown since none of
// them is on the backend yet.
type Range struct {
	From time.Time
	To   time.Time
}

// DisplayRow is one line of the sales history.
type DisplayRow struct {
	Source       Source                `json:"source"`
	ClientSaleID string                `json:"client_sale_id,omitempty"`
	SaleID       string                `json:"sale_id,omitempty"`
	At           time.Time             `json:"at"`
	Status       string                `json:"status"`
	TotalQty     float64               `json:"total_qty"`
	TotalAmount  int64                 `json:"total_amount"`
	Totals       *totals.DerivedTotals `json:"totals,omitempty"`
	SyncError    string                `json:"sync_error,omitempty"`
	Rejected     bool                  `json:"rejected,omitempty"`
}

// View is the merged history. RemoteUnavailable is set when the backend list
// could not be fetched and only local rows are shown.
type View struct {
	Rows              []DisplayRow `json:"rows"`
	PendingCount      int          `json:"pending_count"`
	RemoteUnavailable bool         `json:"remote_unavailable"`
}

// PendingLister reads the queue.
type PendingLister interface {
	ListPending(ctx context.Context, storeID string) ([]offline.QueuedSale, error)
}

// Reconciler builds history views.
type Reconciler struct {
	pending PendingLister
	remote  remote.Lister
	logger  *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(pending PendingLister, lister remote.Lister, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{pending: pending, remote: lister, logger: logger}
}

// History returns queued rows first, then remote rows, each newest-first.
// A failing backend degrades the view instead of failing it; a failing local
// store is an error.
func (r *Reconciler) History(ctx context.Context, storeID string, rng Range) (View, error) {
	var (
		queued    []offline.QueuedSale
		sales     []remote.RemoteSale
		remoteErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		queued, err = r.pending.ListPending(gctx, storeID)
		return err
	})
	g.Go(func() error {
		sales, remoteErr = r.remote.List(gctx, storeID, rng.From, rng.To)
		return nil
	})
	if err := g.Wait(); err != nil {
		return View{}, err
	}

	view := View{Rows: make([]DisplayRow, 0, len(queued)+len(sales))}
	if remoteErr != nil {
		r.logger.Warn("remote sale list unavailable", slog.String("store_id", storeID), slog.Any("error", remoteErr))
		view.RemoteUnavailable = true
		sales = nil
	}

	// A sale the backend already holds but the queue has not removed yet
	// (crash before removal) is shown once, as the remote row.
	confirmed := make(map[string]struct{}, len(sales))
	for _, s := range sales {
		if s.ClientSaleID != "" {
			confirmed[s.ClientSaleID] = struct{}{}
		}
	}

	local := make([]DisplayRow, 0, len(queued))
	for _, q := range queued {
		if _, ok := confirmed[q.ClientSaleID]; ok {
			continue
		}
		local = append(local, pendingRow(q))
	}
	remoteRows := make([]DisplayRow, 0, len(sales))
	for _, s := range sales {
		remoteRows = append(remoteRows, DisplayRow{
			Source:       SourceRemote,
			ClientSaleID: s.ClientSaleID,
			SaleID:       s.SaleID,
			At:           s.SoldAt,
			Status:       s.Status,
			TotalQty:     s.TotalQty,
			TotalAmount:  s.TotalAmount,
		})
	}

	newestFirst(local)
	newestFirst(remoteRows)
	view.Rows = append(view.Rows, local...)
	view.Rows = append(view.Rows, remoteRows...)
	view.PendingCount = len(local)
	return view, nil
}

func pendingRow(q offline.QueuedSale) DisplayRow {
	t := q.Totals()
	return DisplayRow{
		Source:       SourceLocal,
		ClientSaleID: q.ClientSaleID,
		At:           q.CreatedAt,
		Status:       StatusPendingOffline,
		TotalQty:     q.Payload.TotalQty(),
		TotalAmount:  t.Total,
		Totals:       &t,
		SyncError:    q.LastError,
		Rejected:     q.Rejected(),
	}
}

func newestFirst(rows []DisplayRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].At.After(rows[j].At) })
}
