package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Eligible reports whether a coupon can discount the given item: always for
// general coupons, otherwise only when the item matches the rule's target
// product or category.
func Eligible(rule *Rule, item Item) bool {
	switch rule.Scope {
	case ScopeProduct:
		return item.ProductID == rule.TargetProductID
	case ScopeCategory:
		return item.Category != "" && item.Category == rule.TargetCategory
	default:
		return true
	}
}

// Calculate computes the discount amount for the rule against the given
// items. For scoped coupons the discount is derived strictly from the
// eligible subset's subtotal contribution, never from the full cart
// subtotal. The result is always clamped so it cannot exceed the amount it
// applies to, and therefore never produces a negative total downstream.
//
// Cart contents and stock can change between coupon application and
// checkout, so callers must recompute the discount from current items every
// time totals are derived rather than caching it.
func Calculate(rule *Rule, items []Item, subtotal decimal.Decimal) decimal.Decimal {
	applicable := subtotal
	if rule.Scope != ScopeGeneral {
		applicable = decimal.Zero
		for _, item := range items {
			if Eligible(rule, item) {
				line := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
				applicable = applicable.Add(line)
			}
		}
	}

	var discount decimal.Decimal
	switch rule.Type {
	case DiscountFixed:
		discount = rule.Value
	case DiscountPercentage:
		discount = applicable.Mul(rule.Value).Div(hundred).Round(2)
	default:
		return decimal.Zero
	}

	if rule.MaxDiscount.IsPositive() {
		discount = decimal.Min(discount, rule.MaxDiscount)
	}
	discount = decimal.Min(discount, applicable)
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// EligibleCount returns how many of the given items the rule can discount.
func EligibleCount(rule *Rule, items []Item) int {
	n := 0
	for _, item := range items {
		if Eligible(rule, item) {
			n++
		}
	}
	return n
}
