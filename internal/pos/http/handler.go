// Package poshttp exposes the offline queue and sync engine to the register UI.
package poshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/history"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/netstatus"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/offline"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/syncer"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
)

// Queue is the queue surface the UI may touch.
type Queue interface {
	Enqueue(ctx context.Context, in offline.EnqueueInput) (offline.QueuedSale, error)
	ListPending(ctx context.Context, storeID string) ([]offline.QueuedSale, error)
	CountPending(ctx context.Context, storeID string) (int, error)
	GetByClientID(ctx context.Context, storeID, clientSaleID string) (offline.QueuedSale, error)
	Requeue(ctx context.Context, storeID, clientSaleID string) error
	Discard(ctx context.Context, storeID, clientSaleID string) error
}

// Syncer starts sync passes.
type Syncer interface {
	Trigger(storeID string, reason syncer.Reason)
	SyncNow(ctx context.Context, storeID string) (syncer.PassResult, error)
}

// Historian builds the merged sales history.
type Historian interface {
	History(ctx context.Context, storeID string, rng history.Range) (history.View, error)
}

// Config wires the handler's collaborators.
type Config struct {
	Queue     Queue
	Submitter remote.Submitter
	Network   netstatus.Status
	Sync      Syncer
	History   Historian
	Formatter *totals.Formatter
	Logger    *slog.Logger
	// SubmitTimeout bounds the online attempt at checkout before the sale
	// falls back to the queue.
	SubmitTimeout time.Duration
	Clock         func() time.Time
	NewID         func() string
}

// Handler serves the register-facing API.
type Handler struct {
	queue         Queue
	submitter     remote.Submitter
	network       netstatus.Status
	sync          Syncer
	history       Historian
	formatter     *totals.Formatter
	logger        *slog.Logger
	validator     *validator.Validate
	submitTimeout time.Duration
	clock         func() time.Time
	newID         func() string
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		queue:         cfg.Queue,
		submitter:     cfg.Submitter,
		network:       cfg.Network,
		sync:          cfg.Sync,
		history:       cfg.History,
		formatter:     cfg.Formatter,
		logger:        cfg.Logger,
		validator:     validator.New(),
		submitTimeout: cfg.SubmitTimeout,
		clock:         cfg.Clock,
		newID:         cfg.NewID,
	}
	if h.formatter == nil {
		h.formatter = totals.NewFormatter("en", "")
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.submitTimeout <= 0 {
		h.submitTimeout = 10 * time.Second
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	if h.newID == nil {
		h.newID = uuid.NewString
	}
	return h
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	var req checkoutRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.StructCtx(r.Context(), req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	// The id is fixed before the first network attempt so the queued replay of
	// a sale whose online response was lost is recognised as a duplicate.
	clientSaleID := h.newID()
	derived := totals.Project(req.Payload)

	if h.network.Online() {
		res, err := h.submitOnline(r.Context(), storeID, clientSaleID, req)
		if err == nil {
			httpx.JSON(w, http.StatusCreated, checkoutResponse{
				ClientSaleID: clientSaleID,
				Mode:         modeOnline,
				RemoteSaleID: res.RemoteSaleID,
				Duplicate:    res.Outcome == remote.OutcomeDuplicate,
				Totals:       derived,
				Receipt:      h.formatter.Receipt(derived),
			})
			return
		}
		if !remote.IsRetryable(err) {
			h.logger.Warn("checkout rejected", slog.String("store_id", storeID), slog.String("client_sale_id", clientSaleID), slog.Any("error", err))
			httpx.Problem(w, http.StatusUnprocessableEntity, "Sale Rejected", rejectionReason(err))
			return
		}
		h.logger.Warn("online checkout failed, queueing sale", slog.String("store_id", storeID), slog.String("client_sale_id", clientSaleID), slog.Any("error", err))
	}

	sale, err := h.queue.Enqueue(r.Context(), offline.EnqueueInput{
		ClientSaleID:   clientSaleID,
		StoreID:        storeID,
		OrganizationID: req.OrganizationID,
		Payload:        req.Payload,
	})
	if err != nil {
		h.respondQueueError(w, err)
		return
	}
	pending, err := h.queue.CountPending(r.Context(), storeID)
	if err != nil {
		h.logger.Warn("count pending after enqueue", slog.String("store_id", storeID), slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusAccepted, checkoutResponse{
		ClientSaleID: sale.ClientSaleID,
		Mode:         modeOffline,
		Totals:       derived,
		Receipt:      h.formatter.Receipt(derived),
		Pending:      pending,
	})
}

func (h *Handler) submitOnline(ctx context.Context, storeID, clientSaleID string, req checkoutRequest) (remote.SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.submitTimeout)
	defer cancel()
	return h.submitter.Submit(ctx, remote.SubmitRequest{
		ClientSaleID:   clientSaleID,
		StoreID:        storeID,
		OrganizationID: req.OrganizationID,
		SoldAt:         h.clock().UTC(),
		Payload:        req.Payload,
	})
}

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	rows, err := h.queue.ListPending(r.Context(), storeID)
	if err != nil {
		h.respondQueueError(w, err)
		return
	}
	out := queueResponse{StoreID: storeID, Count: len(rows), Sales: make([]queuedSaleResponse, 0, len(rows))}
	for _, row := range rows {
		out.Sales = append(out.Sales, h.queuedSale(row))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) countQueue(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	n, err := h.queue.CountPending(r.Context(), storeID)
	if err != nil {
		h.respondQueueError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, countResponse{StoreID: storeID, Count: n})
}

func (h *Handler) getQueued(w http.ResponseWriter, r *http.Request) {
	sale, err := h.queue.GetByClientID(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "clientSaleID"))
	if err != nil {
		h.respondQueueError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.queuedSale(sale))
}

func (h *Handler) requeue(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.queue.Requeue(r.Context(), storeID, chi.URLParam(r, "clientSaleID")); err != nil {
		h.respondQueueError(w, err)
		return
	}
	h.sync.Trigger(storeID, syncer.ReasonManual)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Discard(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "clientSaleID")); err != nil {
		h.respondQueueError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) syncNow(w http.ResponseWriter, r *http.Request) {
	res, err := h.sync.SyncNow(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		if errors.Is(err, syncer.ErrClosed) {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
			return
		}
		h.logger.Error("sync now", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) foreground(w http.ResponseWriter, r *http.Request) {
	h.sync.Trigger(chi.URLParam(r, "storeID"), syncer.ReasonForeground)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.history.History(r.Context(), chi.URLParam(r, "storeID"), rng)
	if err != nil {
		h.logger.Error("build history", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, statusResponse{Online: h.network.Online(), At: h.clock().UTC()})
}

func (h *Handler) queuedSale(s offline.QueuedSale) queuedSaleResponse {
	t := s.Totals()
	return queuedSaleResponse{QueuedSale: s, Totals: t, Receipt: h.formatter.Receipt(t)}
}

func (h *Handler) respondQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, offline.ErrInvalidSale):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Sale", err.Error())
	case errors.Is(err, offline.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, offline.ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, offline.ErrEnqueueFailed):
		h.logger.Error("sale not saved", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Sale Not Saved", "the sale could not be stored on this device; do not hand over goods")
	default:
		h.logger.Error("queue request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseRange(r *http.Request) (history.Range, error) {
	var rng history.Range
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			return rng, fmt.Errorf("%w: %s: %v", httpx.ErrValidation, p.name, err)
		}
		*p.dst = t
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.To.Before(rng.From) {
		return rng, fmt.Errorf("%w: to is before from", httpx.ErrValidation)
	}
	return rng, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func rejectionReason(err error) string {
	var se *remote.SubmitError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return err.Error()
}
