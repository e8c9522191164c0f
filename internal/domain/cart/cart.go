package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no cart exists for the given owner.
	ErrNotFound = errors.New("cart not found")
	// ErrItemNotFound is returned when a cart item id does not exist in the cart.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrBadSessionID is returned when an anonymous session token is not a UUID.
	ErrBadSessionID = errors.New("invalid session ID format")
	// ErrBadQuantity is returned for non-positive requested quantities.
	ErrBadQuantity = errors.New("quantity must be greater than 0")
	// ErrBadProductID is returned when a mutation names no product.
	ErrBadProductID = errors.New("product ID must not be empty")
	// ErrBadOwner is returned when an owner reference names neither or both
	// of {user, anonymous session}.
	ErrBadOwner = errors.New("cart owner must be exactly one of user or session")
)

// Item is a single product line in a cart. Items are unique by product
// within one cart.
type Item struct {
	ID        string
	ProductID string
	Quantity  int
}

// Cart is a buyer's working set of items plus an optionally applied coupon.
// It belongs to exactly one of a user or an anonymous session. The monetary
// fields are derived: they are recomputed from items after every mutation
// and never trusted as stored truth.
type Cart struct {
	ID         string
	UserID     string // mutually exclusive with SessionID
	SessionID  string
	Items      []Item
	CouponCode string
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ItemByProduct returns the cart item holding the given product, or nil.
func (c *Cart) ItemByProduct(productID string) *Item {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// ItemByID returns the cart item with the given id, or nil.
func (c *Cart) ItemByID(itemID string) *Item {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return &c.Items[i]
		}
	}
	return nil
}

// ProductIDs returns the product ids of all items, in item order.
func (c *Cart) ProductIDs() []string {
	ids := make([]string, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.ProductID
	}
	return ids
}

// Owner identifies who a cart belongs to: an authenticated user or an
// anonymous session, never both.
type Owner struct {
	UserID    string
	SessionID string
}

// UserOwner returns an Owner for an authenticated buyer.
func UserOwner(userID string) Owner { return Owner{UserID: userID} }

// SessionOwner returns an Owner for an anonymous session.
func SessionOwner(sessionID string) Owner { return Owner{SessionID: sessionID} }

// Validate checks the mutual-exclusion rule and the session token format.
func (o Owner) Validate() error {
	switch {
	case o.UserID != "" && o.SessionID != "":
		return ErrBadOwner
	case o.UserID == "" && o.SessionID == "":
		return ErrBadOwner
	case o.SessionID != "":
		if _, err := uuid.Parse(o.SessionID); err != nil {
			return ErrBadSessionID
		}
	}
	return nil
}

// Repository defines persistence operations for carts. A cart exclusively
// owns its items: Save replaces the stored item set and Delete cascades.
type Repository interface {
	GetByUser(ctx context.Context, userID string) (*Cart, error)
	GetBySession(ctx context.Context, sessionID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, cartID string) error
	// DeleteStale removes carts untouched since the cutoff. Invoked by the
	// retention sweep, which runs outside this core.
	DeleteStale(ctx context.Context, olderThan time.Time) (int64, error)
}
