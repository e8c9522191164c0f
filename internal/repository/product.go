package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datasaz/ecommerce-core/internal/domain/product"
	"github.com/datasaz/ecommerce-core/internal/domain/stock"
)

const (
	listProductsSQL = `SELECT id, name, price, offer_price, category, quantity, version
		FROM products ORDER BY id`

	getProductByIDSQL = `SELECT id, name, price, offer_price, category, quantity, version
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, name, price, offer_price, category, quantity, version
		FROM products WHERE id = ANY($1)`

	reserveStockSQL = `UPDATE products
		SET quantity = quantity - $2, version = version + 1
		WHERE id = $1 AND version = $3`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ stock.Ledger       = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and the stock ledger
// backed by PostgreSQL. The products table carries both the catalog data and
// the contended quantity/version pair.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := querierFrom(ctx, r.pool).Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := querierFrom(ctx, r.pool).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := querierFrom(ctx, r.pool).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// CheckAndReserve atomically decrements available stock for a product.
//
// The read observes the current quantity and version; the decrement only
// lands when the version is still the one that was read. A concurrent writer
// bumping the version in between makes the UPDATE match zero rows, which
// surfaces as stock.ErrWriteConflict so the caller can retry its whole
// attempt against fresh state.
func (r *ProductRepository) CheckAndReserve(ctx context.Context, productID string, quantity int) error {
	q := querierFrom(ctx, r.pool)

	var (
		available int
		version   int64
	)
	err := q.QueryRow(ctx, `SELECT quantity, version FROM products WHERE id = $1`, productID).
		Scan(&available, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(product.ErrNotFound, "product %s", productID)
		}
		return fmt.Errorf("reading stock for product %q: %w", productID, err)
	}

	if available < quantity {
		return &stock.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
		}
	}

	tag, err := q.Exec(ctx, reserveStockSQL, productID, quantity, version)
	if err != nil {
		return fmt.Errorf("reserving stock for product %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(stock.ErrWriteConflict, "product %s", productID)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.OfferPrice,
		&p.Category, &p.Quantity, &p.Version,
	)
	return p, err
}
