package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datasaz/ecommerce-core/internal/domain/coupon"
)

const (
	findCouponByCodeSQL = `SELECT code, scope, COALESCE(target_product_id, ''), COALESCE(target_category, ''),
			discount_type, value, max_discount, min_order_amount,
			valid_from, valid_until, max_uses, max_uses_per_user, active, COALESCE(description, '')
		FROM coupons WHERE code = $1`

	countCouponUsesSQL = `SELECT COUNT(*) FROM coupon_usages WHERE code = $1`

	countCouponUsesByUserSQL = `SELECT COUNT(*) FROM coupon_usages WHERE code = $1 AND user_id = $2`

	trackCouponUsageSQL = `INSERT INTO coupon_usages (id, code, user_id, order_id, used_at)
		VALUES ($1, $2, $3, $4, now())`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL. Usage
// history is append-only; each checkout that redeems a coupon adds one row.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode returns the rule stored under the given code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := querierFrom(ctx, r.pool).Query(ctx, findCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", code, err)
	}
	return &rule, nil
}

// CountUses returns how many times the coupon has been redeemed in total.
func (r *CouponRepository) CountUses(ctx context.Context, code string) (int, error) {
	var n int
	err := querierFrom(ctx, r.pool).QueryRow(ctx, countCouponUsesSQL, code).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting uses of coupon %q: %w", code, err)
	}
	return n, nil
}

// CountUsesByUser returns how many times the given user has redeemed the
// coupon.
func (r *CouponRepository) CountUsesByUser(ctx context.Context, code, userID string) (int, error) {
	var n int
	err := querierFrom(ctx, r.pool).QueryRow(ctx, countCouponUsesByUserSQL, code, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting uses of coupon %q by user %q: %w", code, userID, err)
	}
	return n, nil
}

// TrackUsage appends a redemption record for the coupon.
func (r *CouponRepository) TrackUsage(ctx context.Context, code, userID, orderID string) error {
	_, err := querierFrom(ctx, r.pool).Exec(ctx, trackCouponUsageSQL,
		uuid.New().String(), code, userID, orderID,
	)
	if err != nil {
		return fmt.Errorf("tracking usage of coupon %q: %w", code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		scope, dtype string
	)
	err := row.Scan(
		&rule.Code, &scope, &rule.TargetProductID, &rule.TargetCategory,
		&dtype, &rule.Value, &rule.MaxDiscount, &rule.MinOrderAmount,
		&rule.ValidFrom, &rule.ValidUntil, &rule.MaxUses, &rule.MaxUsesPerUser,
		&rule.Active, &rule.Description,
	)
	rule.Scope = coupon.Scope(scope)
	rule.Type = coupon.DiscountType(dtype)
	return rule, err
}
