package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datasaz/ecommerce-core/internal/domain/cart"
)

const (
	getCartByUserSQL = `SELECT id, COALESCE(user_id, ''), COALESCE(session_id, ''), COALESCE(coupon_code, ''),
			subtotal, discount, total, created_at, updated_at
		FROM carts WHERE user_id = $1`

	getCartBySessionSQL = `SELECT id, COALESCE(user_id, ''), COALESCE(session_id, ''), COALESCE(coupon_code, ''),
			subtotal, discount, total, created_at, updated_at
		FROM carts WHERE session_id = $1`

	getCartItemsSQL = `SELECT id, product_id, quantity
		FROM cart_items WHERE cart_id = $1 ORDER BY id`

	upsertCartSQL = `INSERT INTO carts (id, user_id, session_id, coupon_code, subtotal, discount, total, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			coupon_code = EXCLUDED.coupon_code,
			subtotal = EXCLUDED.subtotal,
			discount = EXCLUDED.discount,
			total = EXCLUDED.total,
			updated_at = EXCLUDED.updated_at`

	insertCartItemSQL = `INSERT INTO cart_items (id, cart_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. A cart is
// stored as a header row plus one cart_items row per line; Save replaces the
// lines wholesale inside one transaction.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetByUser returns the cart owned by the given user.
func (r *CartRepository) GetByUser(ctx context.Context, userID string) (*cart.Cart, error) {
	return r.get(ctx, getCartByUserSQL, userID)
}

// GetBySession returns the anonymous cart bound to the given session.
func (r *CartRepository) GetBySession(ctx context.Context, sessionID string) (*cart.Cart, error) {
	return r.get(ctx, getCartBySessionSQL, sessionID)
}

func (r *CartRepository) get(ctx context.Context, query, key string) (*cart.Cart, error) {
	q := querierFrom(ctx, r.pool)

	var c cart.Cart
	err := q.QueryRow(ctx, query, key).Scan(
		&c.ID, &c.UserID, &c.SessionID, &c.CouponCode,
		&c.Subtotal, &c.Discount, &c.Total, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart: %w", err)
	}

	rows, err := q.Query(ctx, getCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("getting cart items: %w", err)
	}
	c.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var item cart.Item
		err := row.Scan(&item.ID, &item.ProductID, &item.Quantity)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning cart items: %w", err)
	}
	return &c, nil
}

// Save upserts the cart header and replaces its lines. It joins an ambient
// transaction when one is in flight, otherwise it opens its own so the
// header and lines can never diverge.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return r.save(ctx, tx, c)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning cart save: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := r.save(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *CartRepository) save(ctx context.Context, q Querier, c *cart.Cart) error {
	_, err := q.Exec(ctx, upsertCartSQL,
		c.ID, c.UserID, c.SessionID, c.CouponCode,
		c.Subtotal, c.Discount, c.Total, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving cart %q: %w", c.ID, err)
	}

	if _, err := q.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, c.ID); err != nil {
		return fmt.Errorf("clearing cart items for %q: %w", c.ID, err)
	}
	for _, item := range c.Items {
		if _, err := q.Exec(ctx, insertCartItemSQL, item.ID, c.ID, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("saving cart item %q: %w", item.ID, err)
		}
	}
	return nil
}

// Delete removes a cart and its lines.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	_, err := querierFrom(ctx, r.pool).Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("deleting cart %q: %w", cartID, err)
	}
	return nil
}

// DeleteStale removes anonymous carts that have not been touched since the
// given cutoff and reports how many were removed.
func (r *CartRepository) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := querierFrom(ctx, r.pool).Exec(ctx,
		`DELETE FROM carts WHERE session_id IS NOT NULL AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("deleting stale carts: %w", err)
	}
	return tag.RowsAffected(), nil
}
