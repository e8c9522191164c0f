package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEligible(t *testing.T) {
	coffee := Item{ProductID: "p1", Category: "coffee", Price: d("10"), Quantity: 1}
	kitchen := Item{ProductID: "p2", Category: "kitchen", Price: d("20"), Quantity: 1}
	uncategorized := Item{ProductID: "p3", Price: d("5"), Quantity: 1}

	general := &Rule{Scope: ScopeGeneral}
	assert.True(t, Eligible(general, coffee))
	assert.True(t, Eligible(general, uncategorized))

	byProduct := &Rule{Scope: ScopeProduct, TargetProductID: "p1"}
	assert.True(t, Eligible(byProduct, coffee))
	assert.False(t, Eligible(byProduct, kitchen))

	byCategory := &Rule{Scope: ScopeCategory, TargetCategory: "coffee"}
	assert.True(t, Eligible(byCategory, coffee))
	assert.False(t, Eligible(byCategory, kitchen))
	assert.False(t, Eligible(byCategory, uncategorized))
}

func TestCalculate(t *testing.T) {
	items := []Item{
		{ProductID: "p1", Category: "coffee", Price: d("10.00"), Quantity: 2},  // 20.00
		{ProductID: "p2", Category: "kitchen", Price: d("30.00"), Quantity: 1}, // 30.00
	}
	subtotal := d("50.00")

	tests := []struct {
		name string
		rule *Rule
		want decimal.Decimal
	}{
		{
			name: "general percentage",
			rule: &Rule{Scope: ScopeGeneral, Type: DiscountPercentage, Value: d("10")},
			want: d("5.00"),
		},
		{
			name: "general fixed",
			rule: &Rule{Scope: ScopeGeneral, Type: DiscountFixed, Value: d("7.50")},
			want: d("7.50"),
		},
		{
			name: "product scope only discounts target lines",
			rule: &Rule{Scope: ScopeProduct, TargetProductID: "p1", Type: DiscountPercentage, Value: d("50")},
			want: d("10.00"),
		},
		{
			name: "category scope only discounts matching lines",
			rule: &Rule{Scope: ScopeCategory, TargetCategory: "kitchen", Type: DiscountPercentage, Value: d("10")},
			want: d("3.00"),
		},
		{
			name: "max discount caps the result",
			rule: &Rule{Scope: ScopeGeneral, Type: DiscountPercentage, Value: d("50"), MaxDiscount: d("15.00")},
			want: d("15.00"),
		},
		{
			name: "fixed discount clamped to applicable amount",
			rule: &Rule{Scope: ScopeProduct, TargetProductID: "p1", Type: DiscountFixed, Value: d("999")},
			want: d("20.00"),
		},
		{
			name: "fixed discount clamped to full subtotal for general scope",
			rule: &Rule{Scope: ScopeGeneral, Type: DiscountFixed, Value: d("999")},
			want: d("50.00"),
		},
		{
			name: "scoped coupon with no matching lines yields zero",
			rule: &Rule{Scope: ScopeCategory, TargetCategory: "books", Type: DiscountPercentage, Value: d("50")},
			want: decimal.Zero,
		},
		{
			name: "unknown discount type yields zero",
			rule: &Rule{Scope: ScopeGeneral, Type: DiscountType("mystery"), Value: d("10")},
			want: decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.rule, items, subtotal)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestCalculate_PercentageRounding(t *testing.T) {
	// 33.33 * 15% = 4.9995, rounds half up to 5.00.
	items := []Item{{ProductID: "p1", Price: d("33.33"), Quantity: 1}}
	rule := &Rule{Scope: ScopeGeneral, Type: DiscountPercentage, Value: d("15")}

	got := Calculate(rule, items, d("33.33"))
	assert.True(t, d("5.00").Equal(got), "got %s", got)
}

func TestEligibleCount(t *testing.T) {
	items := []Item{
		{ProductID: "p1", Category: "coffee"},
		{ProductID: "p2", Category: "coffee"},
		{ProductID: "p3", Category: "kitchen"},
	}

	assert.Equal(t, 3, EligibleCount(&Rule{Scope: ScopeGeneral}, items))
	assert.Equal(t, 2, EligibleCount(&Rule{Scope: ScopeCategory, TargetCategory: "coffee"}, items))
	assert.Equal(t, 1, EligibleCount(&Rule{Scope: ScopeProduct, TargetProductID: "p3"}, items))
	assert.Equal(t, 0, EligibleCount(&Rule{Scope: ScopeProduct, TargetProductID: "p9"}, items))
}
