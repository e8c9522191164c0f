package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
//
// Quantity is the contended available-stock counter; Version is the
// optimistic concurrency token that guards it. Both are owned by the
// catalog store — the checkout core reads them and mutates them only
// through the stock ledger.
type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	OfferPrice *decimal.Decimal
	Category   string
	Quantity   int
	Version    int64
}

// EffectivePrice returns the offer price when one is set, otherwise the
// list price. All cart and order totals are derived from this price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.OfferPrice != nil {
		return *p.OfferPrice
	}
	return p.Price
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
