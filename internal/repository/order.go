package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datasaz/ecommerce-core/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, buyer_id, discount, vat, total, coupon_code, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`

	createOrderItemSQL = `INSERT INTO order_items (id, order_id, product_id, product_name, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderByIDSQL = `SELECT id, buyer_id, discount, vat, total, COALESCE(coupon_code, ''), status, created_at
		FROM orders WHERE id = $1`

	listOrdersByBuyerSQL = `SELECT id, buyer_id, discount, vat, total, COALESCE(coupon_code, ''), status, created_at
		FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`

	getOrderItemsSQL = `SELECT id, product_id, product_name, unit_price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`

	updateOrderTotalsSQL = `UPDATE orders SET discount = $2, vat = $3, total = $4 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Order
// lines live in their own table so buyer history keeps the frozen product
// name and unit price per purchase.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order header and its lines. Callers run it inside a
// unit of work; partial writes roll back with the rest of the checkout.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	q := querierFrom(ctx, r.pool)

	_, err := q.Exec(ctx, createOrderSQL,
		o.ID, o.BuyerID, o.Discount, o.VAT, o.Total, o.CouponCode, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, item := range o.Items {
		_, err := q.Exec(ctx, createOrderItemSQL,
			item.ID, o.ID, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("creating order item %q: %w", item.ID, err)
		}
	}
	return nil
}

// GetByID returns a single order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	q := querierFrom(ctx, r.pool)

	rows, err := q.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o.Items, err = r.items(ctx, q, o.ID)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByBuyer returns the buyer's orders, newest first, each with its lines.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]order.Order, error) {
	q := querierFrom(ctx, r.pool)

	rows, err := q.Query(ctx, listOrdersByBuyerSQL, buyerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for buyer %q: %w", buyerID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scanning orders for buyer %q: %w", buyerID, err)
	}

	for i := range orders {
		orders[i].Items, err = r.items(ctx, q, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// UpdateStatus sets the order's status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, st order.Status) error {
	tag, err := querierFrom(ctx, r.pool).Exec(ctx, updateOrderStatusSQL, id, string(st))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// UpdateTotals persists recomputed monetary fields for an existing order.
func (r *OrderRepository) UpdateTotals(ctx context.Context, o *order.Order) error {
	tag, err := querierFrom(ctx, r.pool).Exec(ctx, updateOrderTotalsSQL, o.ID, o.Discount, o.VAT, o.Total)
	if err != nil {
		return fmt.Errorf("updating totals of order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) items(ctx context.Context, q Querier, orderID string) ([]order.Item, error) {
	rows, err := q.Query(ctx, getOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", orderID, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var item order.Item
		err := row.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.UnitPrice, &item.Quantity)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning items of order %q: %w", orderID, err)
	}
	return items, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.Discount, &o.VAT, &o.Total,
		&o.CouponCode, &status, &o.CreatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}
