package sales

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Handler exposes the device-facing sales API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type submitResponse struct {
	SaleID    string `json:"sale_id"`
	Duplicate bool   `json:"duplicate"`
	Sale      Sale   `json:"sale"`
}

type saleSummary struct {
	SaleID       string    `json:"sale_id"`
	ClientSaleID string    `json:"client_sale_id"`
	SoldAt       time.Time `json:"sold_at"`
	Status       Status    `json:"status"`
	TotalQty     float64   `json:"total_qty"`
	TotalAmount  int64     `json:"total_amount"`
}

type listResponse struct {
	Sales []saleSummary `json:"sales"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var in SubmitInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.StoreID = chi.URLParam(r, "storeID")
	if key := r.Header.Get("Idempotency-Key"); key != "" && key != in.ClientSaleID {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Idempotency Key Mismatch", "Idempotency-Key must equal client_sale_id")
		return
	}

	res, err := h.service.Submit(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httpx.JSON(w, status, submitResponse{SaleID: res.Sale.ID, Duplicate: res.Duplicate, Sale: res.Sale})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{StoreID: chi.URLParam(r, "storeID")}
	q := r.URL.Query()
	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: from: %v", httpx.ErrValidation, err))
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: to: %v", httpx.ErrValidation, err))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: limit: %v", httpx.ErrValidation, err))
			return
		}
	}

	sales, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := listResponse{Sales: make([]saleSummary, 0, len(sales))}
	for _, s := range sales {
		out.Sales = append(out.Sales, saleSummary{
			SaleID:       s.ID,
			ClientSaleID: s.ClientSaleID,
			SoldAt:       s.SoldAt,
			Status:       s.Status,
			TotalQty:     s.TotalQty,
			TotalAmount:  s.Totals.Total,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrIdempotencyMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Sale Rejected", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("sales request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "sale store unavailable, retry later")
	}
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
