// Package offline persists sales captured while the device has no
// connectivity and exposes the queue to the sync engine and the UI.
package offline

import (
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
)

// Status is the lifecycle state of a queued sale. A synced sale is deleted
// rather than stored, so StatusSynced never appears on disk.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSending Status = "SENDING"
	StatusSynced  Status = "SYNCED"
	StatusFailed  Status = "FAILED"
)

// FailureKind records why the last attempt of a FAILED row did not succeed.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureRetryable rows heal on a later pass once the network recovers.
	FailureRetryable FailureKind = "RETRYABLE"
	// FailureRejected rows were refused by the server and need an operator.
	FailureRejected FailureKind = "REJECTED"
)

// QueuedSale is one sale awaiting confirmation by the backend.
type QueuedSale struct {
	Seq            int64          `json:"-"`
	ClientSaleID   string         `json:"client_sale_id"`
	StoreID        string         `json:"store_id"`
	OrganizationID string         `json:"organization_id"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         Status         `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	LastError      string         `json:"last_error,omitempty"`
	FailureKind    FailureKind    `json:"failure_kind,omitempty"`
	NextAttemptAt  time.Time      `json:"next_attempt_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Payload        totals.Payload `json:"payload"`
}

// Totals projects the receipt figures of the queued payload.
func (s QueuedSale) Totals() totals.DerivedTotals {
	return totals.Project(s.Payload)
}

// Rejected reports whether the server refused the sale.
func (s QueuedSale) Rejected() bool {
	return s.Status == StatusFailed && s.FailureKind == FailureRejected
}

// Due reports whether a retryable failure has waited out its backoff.
func (s QueuedSale) Due(now time.Time) bool {
	if s.Status != StatusFailed || s.FailureKind != FailureRetryable {
		return true
	}
	return s.NextAttemptAt.IsZero() || !now.Before(s.NextAttemptAt)
}

// EnqueueInput carries a sale captured at the counter. ClientSaleID is left
// empty for new sales; checkout passes the id it already tried online so a
// replay stays idempotent.
type EnqueueInput struct {
	ClientSaleID   string         `json:"client_sale_id,omitempty" validate:"omitempty,uuid4"`
	StoreID        string         `json:"store_id" validate:"required,max=64"`
	OrganizationID string         `json:"organization_id" validate:"required,max=64"`
	Payload        totals.Payload `json:"payload"`
}

// FailureInput describes a failed submission attempt.
type FailureInput struct {
	Kind          FailureKind
	Message       string
	NextAttemptAt time.Time
}
