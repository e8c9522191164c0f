package order

import (
	"github.com/shopspring/decimal"
)

// DefaultVATRate is the standard-category tax rate applied to the taxable
// amount (subtotal minus discount).
var DefaultVATRate = decimal.RequireFromString("0.20")

// Totals holds the monetary breakdown of an order. All fields are rounded
// to 2 decimal places, half up.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Taxable  decimal.Decimal
	VAT      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals derives order totals from purchased lines and an
// already-computed discount:
//
//	taxable = round2(max(subtotal - discount, 0))
//	VAT     = round2(taxable * vatRate)
//	total   = round2(taxable + VAT)
//
// Checkout and the Save recomputation path both go through this function so
// the two can never diverge. The discount is clamped to the subtotal.
func ComputeTotals(items []Item, discount, vatRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	discount = decimal.Min(decimal.Max(discount, decimal.Zero), subtotal)
	taxable := subtotal.Sub(discount).Round(2)
	vat := taxable.Mul(vatRate).Round(2)
	total := taxable.Add(vat).Round(2)

	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Taxable:  taxable,
		VAT:      vat,
		Total:    total,
	}
}
