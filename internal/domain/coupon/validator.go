package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validator checks that a coupon code may be applied by a buyer to a set of
// cart items and returns the validated rule.
type Validator interface {
	Validate(ctx context.Context, code, buyerID string, subtotal decimal.Decimal, items []Item) (*Rule, error)
}

// RepoValidator implements Validator by looking up rules and usage counters
// from a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the rule for the given code and checks, in order: that
// the rule exists and is active, its validity window, the minimum order
// amount, that at least one item is eligible, and the total and per-user
// usage limits. It does not record usage; usage is tracked by the checkout
// pipeline once the order commits.
func (v *RepoValidator) Validate(ctx context.Context, code, buyerID string, subtotal decimal.Decimal, items []Item) (*Rule, error) {
	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !rule.Active {
		return nil, ErrNotFound
	}

	now := v.now()
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return nil, ErrExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return nil, ErrExpired
	}

	if rule.MinOrderAmount.IsPositive() && subtotal.LessThan(rule.MinOrderAmount) {
		return nil, ErrNotApplicable
	}
	if EligibleCount(rule, items) == 0 {
		return nil, ErrNotApplicable
	}

	if rule.MaxUses > 0 {
		uses, err := v.repo.CountUses(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "count coupon uses")
		}
		if uses >= rule.MaxUses {
			return nil, ErrUsageLimitReached
		}
	}
	if rule.MaxUsesPerUser > 0 && buyerID != "" {
		uses, err := v.repo.CountUsesByUser(ctx, code, buyerID)
		if err != nil {
			return nil, errors.Wrap(err, "count coupon uses for user")
		}
		if uses >= rule.MaxUsesPerUser {
			return nil, ErrUsageLimitReached
		}
	}

	return rule, nil
}
