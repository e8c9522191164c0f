package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrEmptySelection is returned when a checkout resolves to zero items,
	// either because the cart is empty or the partial selection matched
	// nothing.
	ErrEmptySelection = errors.New("no valid items selected for checkout")
)

// Item is a purchased line. Product name and unit price are captured at
// purchase time and frozen, so historical orders stay immutable even when
// the live product later changes.
type Item struct {
	ID          string
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Order is the immutable-after-creation snapshot produced by checkout. Its
// monetary fields change only through the explicit Save recomputation path;
// its status changes only through UpdateStatus. Orders are never physically
// deleted.
type Order struct {
	ID         string
	BuyerID    string
	Items      []Item
	Discount   decimal.Decimal
	VAT        decimal.Decimal
	Total      decimal.Decimal
	CouponCode string // kept for audit
	Status     Status
	CreatedAt  time.Time
}

// Repository defines persistence operations for orders. Create persists the
// order and its items as one unit.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, st Status) error
	UpdateTotals(ctx context.Context, o *Order) error
}

// Notifier receives order lifecycle events. Implementations are
// fire-and-forget: a failed notification never fails the operation that
// triggered it.
type Notifier interface {
	OrderCreated(ctx context.Context, o *Order)
	OrderStatusChanged(ctx context.Context, o *Order, previous Status)
}

// AuditLog is the append-only, best-effort record of checkout and status
// events.
type AuditLog interface {
	Record(ctx context.Context, actor, action, detail string)
}

// TxRunner executes fn inside a single transactional unit of work. The
// context passed to fn carries the transaction; repository calls made with
// it join the same transaction. An error from fn rolls everything back.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
