package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/datasaz/ecommerce-core/internal/domain/cart"
	"github.com/datasaz/ecommerce-core/internal/domain/coupon"
	"github.com/datasaz/ecommerce-core/internal/domain/product"
	"github.com/datasaz/ecommerce-core/internal/domain/stock"
)

// RetryConfig bounds the optimistic-lock retry loop around a checkout
// attempt.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	return c
}

// Config wires a Service's collaborators.
type Config struct {
	Carts    cart.Repository
	Products product.Repository
	Stock    stock.Ledger
	Coupons  coupon.Repository
	Orders   Repository
	Tx       TxRunner
	Notifier Notifier
	Audit    AuditLog
	VATRate  decimal.Decimal // zero selects DefaultVATRate
	Retry    RetryConfig
	Logger   *zap.Logger
}

// Service orchestrates the cart-to-order checkout pipeline and the order
// lifecycle operations.
type Service struct {
	carts    cart.Repository
	products product.Repository
	stock    stock.Ledger
	coupons  coupon.Repository
	orders   Repository
	tx       TxRunner
	notifier Notifier
	audit    AuditLog
	vatRate  decimal.Decimal
	retry    RetryConfig
	lg       *zap.Logger

	sleep func(time.Duration)
}

// NewService creates an order Service from the given configuration.
func NewService(cfg Config) *Service {
	vatRate := cfg.VATRate
	if vatRate.IsZero() {
		vatRate = DefaultVATRate
	}
	return &Service{
		carts:    cfg.Carts,
		products: cfg.Products,
		stock:    cfg.Stock,
		coupons:  cfg.Coupons,
		orders:   cfg.Orders,
		tx:       cfg.Tx,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		vatRate:  vatRate,
		retry:    cfg.Retry.withDefaults(),
		lg:       cfg.Logger.Named("order"),
		sleep:    time.Sleep,
	}
}

// CreateOrder turns the buyer's cart, or the selected subset of it, into a
// persisted order.
//
// Stock reservation, totals computation, order persistence, coupon usage
// tracking, and cart cleanup all run inside one transaction. When a
// reservation loses an optimistic-concurrency race the whole attempt is
// rolled back and redone from stock validation, up to the configured bound;
// totals computed against stale stock state are never reused. Exhausting the
// bound surfaces an error that still matches stock.ErrWriteConflict.
func (s *Service) CreateOrder(ctx context.Context, buyerID string, selectedItemIDs []string) (*Order, error) {
	c, err := s.carts.GetByUser(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	selected, err := selectItems(c, selectedItemIDs)
	if err != nil {
		return nil, err
	}

	var o *Order
	for attempt := 1; ; attempt++ {
		o, err = s.checkoutAttempt(ctx, c, selected)
		if err == nil {
			break
		}
		if !errors.Is(err, stock.ErrWriteConflict) {
			return nil, err
		}
		if attempt >= s.retry.MaxAttempts {
			s.lg.Warn("checkout retries exhausted",
				zap.String("buyer_id", buyerID),
				zap.Int("attempts", attempt))
			return nil, errors.Wrap(err, "checkout retries exhausted")
		}
		s.lg.Info("checkout write conflict, retrying",
			zap.String("buyer_id", buyerID),
			zap.Int("attempt", attempt))
		s.sleep(s.retry.Backoff)
	}

	s.audit.Record(ctx, buyerID, "ORDER_CREATED",
		fmt.Sprintf("order %s created from %d cart items", o.ID, len(selected)))
	s.notifier.OrderCreated(ctx, o)

	return o, nil
}

// selectItems resolves which cart items are checked out: the explicit
// subset when item ids are supplied (partial checkout), the whole cart
// otherwise.
func selectItems(c *cart.Cart, selectedItemIDs []string) ([]cart.Item, error) {
	if len(selectedItemIDs) == 0 {
		if len(c.Items) == 0 {
			return nil, ErrEmptySelection
		}
		return c.Items, nil
	}

	wanted := make(map[string]struct{}, len(selectedItemIDs))
	for _, id := range selectedItemIDs {
		wanted[id] = struct{}{}
	}

	var selected []cart.Item
	for _, item := range c.Items {
		if _, ok := wanted[item.ID]; ok {
			selected = append(selected, item)
		}
	}
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}
	return selected, nil
}

// checkoutAttempt runs one full transactional checkout attempt. It never
// mutates the caller's cart: the residual cart is rebuilt from scratch so a
// rolled-back attempt leaves no trace.
func (s *Service) checkoutAttempt(ctx context.Context, c *cart.Cart, selected []cart.Item) (*Order, error) {
	var built *Order

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		byID, err := s.fetchProducts(ctx, c)
		if err != nil {
			return err
		}

		// Reserve stock for every selected line before any order row is
		// written. A single shortfall aborts the whole checkout: no partial
		// order may come out of a partial stock failure.
		for _, item := range selected {
			p, ok := byID[item.ProductID]
			if !ok {
				return errors.Wrapf(product.ErrNotFound, "product %s", item.ProductID)
			}
			if err := s.stock.CheckAndReserve(ctx, p.ID, item.Quantity); err != nil {
				return err
			}
		}

		orderItems := make([]Item, len(selected))
		for i, item := range selected {
			p := byID[item.ProductID]
			orderItems[i] = Item{
				ID:          uuid.New().String(),
				ProductID:   p.ID,
				ProductName: p.Name,
				UnitPrice:   p.EffectivePrice(),
				Quantity:    item.Quantity,
			}
		}

		// The discount is recomputed against the selected subset, not the
		// whole cart, so partial checkouts stay correct.
		discount, rule, err := s.couponDiscount(ctx, c.CouponCode, byID, selected)
		if err != nil {
			return err
		}

		totals := ComputeTotals(orderItems, discount, s.vatRate)

		o := &Order{
			ID:         uuid.New().String(),
			BuyerID:    c.UserID,
			Items:      orderItems,
			Discount:   totals.Discount,
			VAT:        totals.VAT,
			Total:      totals.Total,
			CouponCode: c.CouponCode,
			Status:     StatusPendingPayment,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		if rule != nil {
			if err := s.coupons.TrackUsage(ctx, rule.Code, c.UserID, o.ID); err != nil {
				return errors.Wrap(err, "track coupon usage")
			}
		}

		if err := s.shrinkCart(ctx, c, selected, byID); err != nil {
			return err
		}

		built = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return built, nil
}

func (s *Service) fetchProducts(ctx context.Context, c *cart.Cart) (map[string]product.Product, error) {
	fetched, err := s.products.GetByIDs(ctx, c.ProductIDs())
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}
	return byID, nil
}

// couponDiscount computes the discount the cart's coupon yields for the
// given lines. A coupon whose rule has vanished from the catalog degrades
// to a zero discount rather than failing the checkout.
func (s *Service) couponDiscount(ctx context.Context, code string, byID map[string]product.Product, lines []cart.Item) (decimal.Decimal, *coupon.Rule, error) {
	if code == "" {
		return decimal.Zero, nil, nil
	}

	rule, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			s.lg.Warn("cart coupon no longer exists, checking out without discount",
				zap.String("code", code))
			return decimal.Zero, nil, nil
		}
		return decimal.Zero, nil, errors.Wrap(err, "lookup coupon")
	}

	items := make([]coupon.Item, 0, len(lines))
	subtotal := decimal.Zero
	for _, line := range lines {
		p, ok := byID[line.ProductID]
		if !ok {
			continue
		}
		price := p.EffectivePrice()
		items = append(items, coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Price:     price,
			Quantity:  line.Quantity,
		})
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	return coupon.Calculate(rule, items, subtotal), rule, nil
}

// shrinkCart removes the purchased items from the cart, recomputes the
// residual totals, and persists the shrunken cart. Partial checkout leaves
// the unselected items behind.
func (s *Service) shrinkCart(ctx context.Context, c *cart.Cart, selected []cart.Item, byID map[string]product.Product) error {
	purchased := make(map[string]struct{}, len(selected))
	for _, item := range selected {
		purchased[item.ID] = struct{}{}
	}

	residual := *c
	residual.Items = nil
	for _, item := range c.Items {
		if _, ok := purchased[item.ID]; !ok {
			residual.Items = append(residual.Items, item)
		}
	}

	discount, _, err := s.couponDiscount(ctx, residual.CouponCode, byID, residual.Items)
	if err != nil {
		return err
	}
	subtotal := decimal.Zero
	for _, item := range residual.Items {
		if p, ok := byID[item.ProductID]; ok {
			subtotal = subtotal.Add(p.EffectivePrice().Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
	}
	residual.Subtotal = subtotal
	residual.Discount = decimal.Min(discount, subtotal)
	residual.Total = decimal.Max(subtotal.Sub(discount), decimal.Zero)
	residual.UpdatedAt = time.Now().UTC()

	if err := s.carts.Save(ctx, &residual); err != nil {
		return errors.Wrap(err, "save residual cart")
	}
	return nil
}

// UpdateStatus moves an order to the named status. Each transition is
// audited and broadcast; neither side effect can fail the transition.
func (s *Service) UpdateStatus(ctx context.Context, orderID, label string) (*Order, error) {
	st, err := ParseStatus(label)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	previous := o.Status

	if err := s.orders.UpdateStatus(ctx, orderID, st); err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	o.Status = st

	s.audit.Record(ctx, o.BuyerID, "ORDER_STATUS_UPDATED",
		fmt.Sprintf("order %s: %s -> %s", o.ID, previous, st))
	s.notifier.OrderStatusChanged(ctx, o, previous)

	return o, nil
}

// Save re-derives the order's VAT and total from its current items and
// discount and persists them. Calling it twice with unchanged items yields
// identical totals: it shares ComputeTotals with the checkout pipeline.
func (s *Service) Save(ctx context.Context, o *Order) error {
	totals := ComputeTotals(o.Items, o.Discount, s.vatRate)
	o.Discount = totals.Discount
	o.VAT = totals.VAT
	o.Total = totals.Total

	if err := s.orders.UpdateTotals(ctx, o); err != nil {
		return errors.Wrap(err, "save order totals")
	}

	s.audit.Record(ctx, o.BuyerID, "ORDER_SAVED",
		fmt.Sprintf("order %s totals recomputed", o.ID))
	return nil
}

// Get returns a single order by id.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// ListByBuyer returns all orders placed by the given buyer.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	return s.orders.ListByBuyer(ctx, buyerID)
}
