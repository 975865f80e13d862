package totals

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxUnits = decimal.NewFromInt(math.MaxInt64)
)

// Project derives subtotal, discount, total, paid and due figures from a
// payload. Malformed numbers count as zero so a receipt can always be printed.
func Project(p Payload) DerivedTotals {
	subtotal := roundUnits(Subtotal(p.Items))
	discount := discountAmount(p.DiscountType, p.DiscountValue, subtotal)

	total := subtotal - discount
	if total < 0 {
		total = 0
	}

	paid := roundUnits(decimal.NewFromFloat(sanitize(p.PaidAmount)))
	paid = clamp(paid, 0, total)

	isCredit := p.PaymentMethod == PaymentCredit || paid < total
	var due int64
	if isCredit {
		due = total - paid
		if due < 0 {
			due = 0
		}
	}

	return DerivedTotals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Total:          total,
		PaidAmount:     paid,
		Due:            due,
		IsCredit:       isCredit,
	}
}

// Subtotal sums qty*unit_price over lines where both are positive.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		qty := sanitize(item.Qty)
		price := sanitize(item.UnitPrice)
		if qty <= 0 || price <= 0 {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price)))
	}
	return sum
}

func discountAmount(kind DiscountType, value float64, subtotal int64) int64 {
	value = sanitize(value)
	var amount int64
	switch kind {
	case DiscountPercent:
		pct := math.Min(value, 100)
		amount = roundUnits(decimal.NewFromInt(subtotal).Mul(decimal.NewFromFloat(pct)).Div(hundred))
	case DiscountFixed:
		amount = roundUnits(decimal.NewFromFloat(value))
	default:
		return 0
	}
	return clamp(amount, 0, subtotal)
}

// roundUnits saturates at math.MaxInt64 instead of wrapping.
func roundUnits(d decimal.Decimal) int64 {
	d = d.Round(0)
	if d.GreaterThan(maxUnits) {
		return math.MaxInt64
	}
	if d.IsNegative() {
		return 0
	}
	return d.IntPart()
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sanitize maps NaN, infinities and negatives to zero.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
