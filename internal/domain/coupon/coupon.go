package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Scope restricts which cart items a coupon can discount.
type Scope string

const (
	// ScopeGeneral applies the coupon to every item in the cart.
	ScopeGeneral Scope = "general"
	// ScopeProduct applies the coupon only to a single target product.
	ScopeProduct Scope = "product"
	// ScopeCategory applies the coupon only to items in a target category.
	ScopeCategory Scope = "category"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the applicable subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the applicable subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when no active coupon exists for a code.
	ErrNotFound = errors.New("coupon not found")
	// ErrExpired is returned when a coupon is outside its validity window.
	ErrExpired = errors.New("coupon expired or not yet valid")
	// ErrUsageLimitReached is returned when a coupon has exhausted its
	// total or per-user usage allowance.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrNotApplicable is returned when a cart has no items the coupon can
	// discount, or does not meet the coupon's minimum order amount.
	ErrNotApplicable = errors.New("coupon not applicable to cart")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
// Rules are owned by the catalog subsystem; the checkout core only reads
// them and appends usage records.
type Rule struct {
	Code            string
	Scope           Scope
	TargetProductID string // set when Scope == ScopeProduct
	TargetCategory  string // set when Scope == ScopeCategory
	Type            DiscountType
	Value           decimal.Decimal
	MaxDiscount     decimal.Decimal // optional cap, zero means uncapped
	MinOrderAmount  decimal.Decimal // zero means no minimum
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	MaxUses         int // zero means unlimited
	MaxUsesPerUser  int // zero means unlimited
	Active          bool
	Description     string
}

// Item is a priced cart line presented to the evaluator.
type Item struct {
	ProductID string
	Category  string
	Price     decimal.Decimal
	Quantity  int
}

// Repository provides lookup of coupon rules and their usage history.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	CountUses(ctx context.Context, code string) (int, error)
	CountUsesByUser(ctx context.Context, code, userID string) (int, error)
	TrackUsage(ctx context.Context, code, userID, orderID string) error
}
