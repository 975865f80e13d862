package totals

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders whole-unit amounts with locale digit grouping.
type Formatter struct {
	printer *message.Printer
	symbol  string
}

// NewFormatter builds a Formatter for a BCP 47 locale and currency symbol.
// Unknown locales fall back to English grouping.
func NewFormatter(locale, symbol string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Formatter{printer: message.NewPrinter(tag), symbol: symbol}
}

// Amount formats a single amount, prefixed by the currency symbol when set.
func (f *Formatter) Amount(v int64) string {
	if f.symbol == "" {
		return f.printer.Sprintf("%d", v)
	}
	return f.printer.Sprintf("%s %d", f.symbol, v)
}

// Receipt is the printable form of DerivedTotals.
type Receipt struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
	Paid     string `json:"paid"`
	Due      string `json:"due"`
	Credit   bool   `json:"credit"`
}

// Receipt formats every figure of t.
func (f *Formatter) Receipt(t DerivedTotals) Receipt {
	return Receipt{
		Subtotal: f.Amount(t.Subtotal),
		Discount: f.Amount(t.DiscountAmount),
		Total:    f.Amount(t.Total),
		Paid:     f.Amount(t.PaidAmount),
		Due:      f.Amount(t.Due),
		Credit:   t.IsCredit,
	}
}
