// Package remote defines the backend contracts the sync engine depends on and
// an HTTP client implementing them against salesd.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
)

// SubmitRequest is one sale replayed to the backend. ClientSaleID is the
// idempotency key.
type SubmitRequest struct {
	ClientSaleID   string         `json:"client_sale_id"`
	StoreID        string         `json:"-"`
	OrganizationID string         `json:"organization_id"`
	SoldAt         time.Time      `json:"sold_at"`
	Payload        totals.Payload `json:"payload"`
}

// Outcome distinguishes a newly recorded sale from an idempotent replay.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
)

// SubmitResult is returned when the backend holds the sale.
type SubmitResult struct {
	Outcome      Outcome
	RemoteSaleID string
}

// SubmitError is returned when the backend does not hold the sale.
type SubmitError struct {
	Retryable bool
	Status    int
	Reason    string
	Err       error
}

func (e *SubmitError) Error() string {
	kind := "rejected"
	if e.Retryable {
		kind = "retryable"
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("remote: %s: %v", kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("remote: %s (status %d): %s", kind, e.Status, e.Reason)
	default:
		return fmt.Sprintf("remote: %s: %s", kind, e.Reason)
	}
}

func (e *SubmitError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient submission failure. Errors
// not produced by a Submitter, such as context deadlines, count as retryable.
func IsRetryable(err error) bool {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return err != nil
}

// Submitter persists sales on the backend. Implementations must answer a
// repeated ClientSaleID with OutcomeDuplicate instead of a second sale.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
}

// RemoteSale is the authoritative backend record of a sale.
type RemoteSale struct {
	SaleID       string    `json:"sale_id"`
	ClientSaleID string    `json:"client_sale_id,omitempty"`
	SoldAt       time.Time `json:"sold_at"`
	Status       string    `json:"status"`
	TotalQty     float64   `json:"total_qty"`
	TotalAmount  int64     `json:"total_amount"`
}

// Lister reads backend sales of a store within [from, to].
type Lister interface {
	List(ctx context.Context, storeID string, from, to time.Time) ([]RemoteSale, error)
}
