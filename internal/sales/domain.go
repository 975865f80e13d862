// Package sales records point-of-sale transactions submitted by store
// devices. A sale is identified by the device-generated client_sale_id, so a
// replayed submission returns the original record instead of a second sale.
package sales

import (
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
)

var (
	ErrNotFound = errors.New("sale not found")
	// ErrInvalidInput wraps validation failures of a submitted sale.
	ErrInvalidInput = errors.New("invalid sale")
	// ErrIdempotencyMismatch means a client_sale_id was reused by another store.
	ErrIdempotencyMismatch = errors.New("client_sale_id already used by another store")
)

// Status of a recorded sale.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	// StatusCredit marks a sale with an outstanding balance.
	StatusCredit Status = "CREDIT"
)

// Sale is the authoritative record.
type Sale struct {
	ID             string               `json:"sale_id"`
	ClientSaleID   string               `json:"client_sale_id"`
	StoreID        string               `json:"store_id"`
	OrganizationID string               `json:"organization_id"`
	SoldAt         time.Time            `json:"sold_at"`
	ReceivedAt     time.Time            `json:"received_at"`
	Status         Status               `json:"status"`
	TotalQty       float64              `json:"total_qty"`
	Totals         totals.DerivedTotals `json:"totals"`
	Payload        totals.Payload       `json:"payload"`
}

// SubmitInput is a sale as sent by a device.
type SubmitInput struct {
	ClientSaleID   string         `json:"client_sale_id" validate:"required,uuid4"`
	StoreID        string         `json:"-" validate:"required,max=64"`
	OrganizationID string         `json:"organization_id" validate:"required,max=64"`
	SoldAt         time.Time      `json:"sold_at" validate:"required"`
	Payload        totals.Payload `json:"payload"`
}

// SubmitResult reports whether the sale was new.
type SubmitResult struct {
	Sale      Sale
	Duplicate bool
}

// ListFilter selects a store's sales; zero times leave the range open.
type ListFilter struct {
	StoreID string
	From    time.Time
	To      time.Time
	Limit   int
}
