// Package totals derives the financial figures of a point-of-sale payload.
package totals

// DiscountType selects how DiscountValue is interpreted.
type DiscountType string

const (
	// DiscountNone means no discount applies.
	DiscountNone DiscountType = ""
	// DiscountPercent treats DiscountValue as a percentage of the subtotal.
	DiscountPercent DiscountType = "PERCENT"
	// DiscountFixed treats DiscountValue as an absolute amount.
	DiscountFixed DiscountType = "FIXED"
)

// PaymentMethod enumerates tenders accepted at the counter.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentQRIS     PaymentMethod = "QRIS"
	PaymentCard     PaymentMethod = "CARD"
	PaymentCredit   PaymentMethod = "CREDIT"
)

// Item is one sold line as captured at checkout. Amounts are capped at 10^15
// units so accepted sales stay well inside int64 totals.
type Item struct {
	ProductID string  `json:"product_id" validate:"required,max=64"`
	Name      string  `json:"name" validate:"max=200"`
	SKU       string  `json:"sku,omitempty" validate:"max=64"`
	Qty       float64 `json:"qty" validate:"lte=1000000"`
	UnitPrice float64 `json:"unit_price" validate:"lte=1000000000000000"`
}

// Payload is the immutable snapshot of a sale at creation time.
type Payload struct {
	Items          []Item        `json:"items" validate:"required,min=1,dive"`
	DiscountType   DiscountType  `json:"discount_type,omitempty" validate:"omitempty,oneof=PERCENT FIXED"`
	DiscountValue  float64       `json:"discount_value,omitempty" validate:"lte=1000000000000000"`
	PaymentMethod  PaymentMethod `json:"payment_method" validate:"required,oneof=CASH TRANSFER QRIS CARD CREDIT"`
	PaymentChannel string        `json:"payment_channel,omitempty" validate:"max=64"`
	Reference      string        `json:"reference,omitempty" validate:"max=128"`
	PaidAmount     float64       `json:"paid_amount" validate:"lte=1000000000000000"`
	Note           string        `json:"note,omitempty" validate:"max=500"`
}

// TotalQty sums the positive quantities of the payload.
func (p Payload) TotalQty() float64 {
	var qty float64
	for _, item := range p.Items {
		qty += sanitize(item.Qty)
	}
	return qty
}

// DerivedTotals is computed from a Payload and never persisted.
type DerivedTotals struct {
	Subtotal       int64 `json:"subtotal"`
	DiscountAmount int64 `json:"discount_amount"`
	Total          int64 `json:"total"`
	PaidAmount     int64 `json:"paid_amount"`
	Due            int64 `json:"due"`
	IsCredit       bool  `json:"is_credit"`
}
