// Package stock defines the reservation contract for the shared
// available-quantity counter on products.
package stock

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

// ErrWriteConflict signals that a reservation lost a race against a
// concurrent decrement of the same product row. It is transient: the
// orchestrating pipeline retries the whole attempt, it is never swallowed
// at the ledger level.
var ErrWriteConflict = errors.New("stock write conflict")

// InsufficientStockError indicates a reservation asked for more units than
// the product has available. Terminal for the attempt that raised it.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Ledger serializes concurrent reservations of product stock.
type Ledger interface {
	// CheckAndReserve decrements the product's available quantity by the
	// given amount and bumps its version, as one atomic unit. It fails with
	// *InsufficientStockError when not enough units are available and with
	// ErrWriteConflict when a concurrent writer touched the row first.
	CheckAndReserve(ctx context.Context, productID string, quantity int) error
}
