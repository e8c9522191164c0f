package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/datasaz/ecommerce-core/internal/domain/coupon"
	"github.com/datasaz/ecommerce-core/internal/domain/product"
	"github.com/datasaz/ecommerce-core/internal/domain/stock"
	"github.com/datasaz/ecommerce-core/internal/domain/user"
)

// Service maintains cart line items and their derived totals.
//
// Stock checks here are advisory: they keep carts honest at mutation time,
// but the authoritative check happens again at checkout through the stock
// ledger.
type Service struct {
	carts     Repository
	products  product.Repository
	users     user.Repository
	validator coupon.Validator
	rules     coupon.Repository
	lg        *zap.Logger
}

// NewService creates a cart Service with the required dependencies.
func NewService(
	carts Repository,
	products product.Repository,
	users user.Repository,
	validator coupon.Validator,
	rules coupon.Repository,
	lg *zap.Logger,
) *Service {
	return &Service{
		carts:     carts,
		products:  products,
		users:     users,
		validator: validator,
		rules:     rules,
		lg:        lg.Named("cart"),
	}
}

// Get returns the owner's cart, creating an empty one when none exists yet.
// The returned cart is not persisted until the first mutation.
func (s *Service) Get(ctx context.Context, owner Owner) (*Cart, error) {
	return s.getOrCreate(ctx, owner)
}

// AddItem adds the requested quantity of a product to the owner's cart,
// summing with an existing line for the same product. The resulting quantity
// is validated against live product stock before the mutation commits.
func (s *Service) AddItem(ctx context.Context, owner Owner, productID string, quantity int) (*Cart, error) {
	if productID == "" {
		return nil, ErrBadProductID
	}
	if quantity <= 0 {
		return nil, ErrBadQuantity
	}

	c, err := s.getOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	total := quantity
	existing := c.ItemByProduct(productID)
	if existing != nil {
		total += existing.Quantity
	}
	if total > p.Quantity {
		return nil, &stock.InsufficientStockError{
			ProductID: p.ID,
			Requested: total,
			Available: p.Quantity,
		}
	}

	if existing != nil {
		existing.Quantity = total
	} else {
		c.Items = append(c.Items, Item{
			ID:        uuid.New().String(),
			ProductID: productID,
			Quantity:  quantity,
		})
	}

	return c, s.saveWithTotals(ctx, c)
}

// UpdateItem sets the quantity of an existing cart line. A quantity of zero
// or less removes the line.
func (s *Service) UpdateItem(ctx context.Context, owner Owner, itemID string, quantity int) (*Cart, error) {
	c, err := s.getOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}

	item := c.ItemByID(itemID)
	if item == nil {
		return nil, errors.Wrapf(ErrItemNotFound, "item %s", itemID)
	}

	if quantity <= 0 {
		c.removeItem(itemID)
		return c, s.saveWithTotals(ctx, c)
	}

	p, err := s.products.GetByID(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if quantity > p.Quantity {
		return nil, &stock.InsufficientStockError{
			ProductID: p.ID,
			Requested: quantity,
			Available: p.Quantity,
		}
	}

	item.Quantity = quantity
	return c, s.saveWithTotals(ctx, c)
}

// RemoveItem deletes a single line from the owner's cart.
func (s *Service) RemoveItem(ctx context.Context, owner Owner, itemID string) (*Cart, error) {
	c, err := s.getOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}
	if c.ItemByID(itemID) == nil {
		return nil, errors.Wrapf(ErrItemNotFound, "item %s", itemID)
	}
	c.removeItem(itemID)
	return c, s.saveWithTotals(ctx, c)
}

// Clear removes every item from the owner's cart. The applied coupon, if
// any, stays on the cart; its discount recomputes to zero.
func (s *Service) Clear(ctx context.Context, owner Owner) (*Cart, error) {
	c, err := s.getOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}
	c.Items = nil
	return c, s.saveWithTotals(ctx, c)
}

// ApplyCoupon validates the code against the cart's current subtotal and
// items, stores it on the cart, and returns the cart with the computed
// discount.
func (s *Service) ApplyCoupon(ctx context.Context, owner Owner, code string) (*Cart, decimal.Decimal, error) {
	c, err := s.getOrCreate(ctx, owner)
	if err != nil {
		return nil, decimal.Zero, err
	}

	items, subtotal, err := s.pricedItems(ctx, c)
	if err != nil {
		return nil, decimal.Zero, err
	}

	if _, err := s.validator.Validate(ctx, code, c.UserID, subtotal, items); err != nil {
		return nil, decimal.Zero, err
	}

	c.CouponCode = code
	if err := s.saveWithTotals(ctx, c); err != nil {
		return nil, decimal.Zero, err
	}
	return c, c.Discount, nil
}

// RemoveCoupon detaches the applied coupon and recomputes totals.
func (s *Service) RemoveCoupon(ctx context.Context, owner Owner) (*Cart, error) {
	c, err := s.getOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}
	c.CouponCode = ""
	return c, s.saveWithTotals(ctx, c)
}

func (c *Cart) removeItem(itemID string) {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return
		}
	}
}

func (s *Service) getOrCreate(ctx context.Context, owner Owner) (*Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var (
		c   *Cart
		err error
	)
	if owner.UserID != "" {
		if _, err := s.users.GetByID(ctx, owner.UserID); err != nil {
			return nil, err
		}
		c, err = s.carts.GetByUser(ctx, owner.UserID)
	} else {
		c, err = s.carts.GetBySession(ctx, owner.SessionID)
	}
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "load cart")
	}

	now := time.Now().UTC()
	return &Cart{
		ID:        uuid.New().String(),
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// pricedItems resolves the cart's items against the live catalog and returns
// them as evaluator lines along with the subtotal at effective prices.
// Items whose product has disappeared from the catalog contribute nothing.
func (s *Service) pricedItems(ctx context.Context, c *Cart) ([]coupon.Item, decimal.Decimal, error) {
	if len(c.Items) == 0 {
		return nil, decimal.Zero, nil
	}

	fetched, err := s.products.GetByIDs(ctx, c.ProductIDs())
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]coupon.Item, 0, len(c.Items))
	subtotal := decimal.Zero
	for _, item := range c.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			s.lg.Warn("cart item references missing product",
				zap.String("cart_id", c.ID),
				zap.String("product_id", item.ProductID))
			continue
		}
		price := p.EffectivePrice()
		items = append(items, coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Price:     price,
			Quantity:  item.Quantity,
		})
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return items, subtotal, nil
}

// saveWithTotals recomputes the derived totals from the current items and
// persists the cart.
func (s *Service) saveWithTotals(ctx context.Context, c *Cart) error {
	if err := s.recomputeTotals(ctx, c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	if err := s.carts.Save(ctx, c); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}

func (s *Service) recomputeTotals(ctx context.Context, c *Cart) error {
	items, subtotal, err := s.pricedItems(ctx, c)
	if err != nil {
		return err
	}

	discount := decimal.Zero
	if c.CouponCode != "" {
		rule, err := s.rules.FindByCode(ctx, c.CouponCode)
		switch {
		case err == nil:
			discount = coupon.Calculate(rule, items, subtotal)
		case errors.Is(err, coupon.ErrNotFound):
			s.lg.Warn("applied coupon no longer exists, ignoring",
				zap.String("cart_id", c.ID),
				zap.String("code", c.CouponCode))
		default:
			return errors.Wrap(err, "lookup applied coupon")
		}
	}

	c.Subtotal = subtotal
	c.Discount = discount
	c.Total = decimal.Max(subtotal.Sub(discount), decimal.Zero)
	return nil
}
