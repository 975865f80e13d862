package poshttp

import (
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/pos/offline"
	"github.com/odyssey-erp/odyssey-pos/internal/pos/totals"
)

type checkoutRequest struct {
	OrganizationID string         `json:"organization_id" validate:"required,max=64"`
	Payload        totals.Payload `json:"payload"`
}

// Checkout modes tell the UI whether the sale already reached the backend.
const (
	modeOnline  = "online"
	modeOffline = "offline"
)

type checkoutResponse struct {
	ClientSaleID string               `json:"client_sale_id"`
	Mode         string               `json:"mode"`
	RemoteSaleID string               `json:"remote_sale_id,omitempty"`
	Duplicate    bool                 `json:"duplicate,omitempty"`
	Totals       totals.DerivedTotals `json:"totals"`
	Receipt      totals.Receipt       `json:"receipt"`
	Pending      int                  `json:"pending,omitempty"`
}

type queuedSaleResponse struct {
	offline.QueuedSale
	Totals  totals.DerivedTotals `json:"totals"`
	Receipt totals.Receipt       `json:"receipt"`
}

type queueResponse struct {
	StoreID string               `json:"store_id"`
	Count   int                  `json:"count"`
	Sales   []queuedSaleResponse `json:"sales"`
}

type countResponse struct {
	StoreID string `json:"store_id"`
	Count   int    `json:"count"`
}

type statusResponse struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}
