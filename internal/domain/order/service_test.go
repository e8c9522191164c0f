package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datasaz/ecommerce-core/internal/domain/cart"
	"github.com/datasaz/ecommerce-core/internal/domain/coupon"
	"github.com/datasaz/ecommerce-core/internal/domain/product"
	"github.com/datasaz/ecommerce-core/internal/domain/stock"
)

// --- Mock implementations ---

type mockCartRepo struct {
	mu     sync.Mutex
	byUser map[string]*cart.Cart
	saved  []*cart.Cart
}

func (m *mockCartRepo) GetByUser(_ context.Context, userID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byUser[userID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return c, nil
}

func (m *mockCartRepo) GetBySession(_ context.Context, _ string) (*cart.Cart, error) {
	return nil, cart.ErrNotFound
}

func (m *mockCartRepo) Save(_ context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *c
	saved.Items = append([]cart.Item(nil), c.Items...)
	m.saved = append(m.saved, &saved)
	return nil
}

func (m *mockCartRepo) Delete(_ context.Context, _ string) error { return nil }

func (m *mockCartRepo) DeleteStale(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (m *mockCartRepo) lastSaved() *cart.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil
	}
	return m.saved[len(m.saved)-1]
}

type mockProductRepo struct {
	byID map[string]product.Product
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) { return nil, nil }

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockLedger struct {
	mu        sync.Mutex
	stock     map[string]int
	conflicts int // conflict errors to return before behaving normally
	calls     int
}

func (m *mockLedger) CheckAndReserve(_ context.Context, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.conflicts > 0 {
		m.conflicts--
		return stock.ErrWriteConflict
	}
	available := m.stock[productID]
	if available < quantity {
		return &stock.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
		}
	}
	m.stock[productID] = available - quantity
	return nil
}

type trackedUsage struct {
	code, userID, orderID string
}

type mockCouponRepo struct {
	rule    *coupon.Rule
	findErr error
	tracked []trackedUsage
}

func (m *mockCouponRepo) FindByCode(_ context.Context, _ string) (*coupon.Rule, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.rule == nil {
		return nil, coupon.ErrNotFound
	}
	return m.rule, nil
}

func (m *mockCouponRepo) CountUses(_ context.Context, _ string) (int, error) { return 0, nil }

func (m *mockCouponRepo) CountUsesByUser(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

func (m *mockCouponRepo) TrackUsage(_ context.Context, code, userID, orderID string) error {
	m.tracked = append(m.tracked, trackedUsage{code, userID, orderID})
	return nil
}

type mockOrderRepo struct {
	mu            sync.Mutex
	created       []*Order
	byID          map[string]*Order
	statusUpdates map[string]Status
	totalsUpdates []*Order
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, o)
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) ListByBuyer(_ context.Context, _ string) ([]Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, st Status) error {
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	if m.statusUpdates == nil {
		m.statusUpdates = make(map[string]Status)
	}
	m.statusUpdates[id] = st
	return nil
}

func (m *mockOrderRepo) UpdateTotals(_ context.Context, o *Order) error {
	m.totalsUpdates = append(m.totalsUpdates, o)
	return nil
}

type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type statusChange struct {
	order    *Order
	previous Status
}

type mockNotifier struct {
	mu      sync.Mutex
	created []*Order
	changes []statusChange
}

func (m *mockNotifier) OrderCreated(_ context.Context, o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, o)
}

func (m *mockNotifier) OrderStatusChanged(_ context.Context, o *Order, previous Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, statusChange{order: o, previous: previous})
}

type mockAudit struct {
	mu      sync.Mutex
	actions []string
}

func (m *mockAudit) Record(_ context.Context, _, action, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
}

// --- Helpers ---

type fixture struct {
	svc      *Service
	carts    *mockCartRepo
	products *mockProductRepo
	ledger   *mockLedger
	coupons  *mockCouponRepo
	orders   *mockOrderRepo
	notifier *mockNotifier
	audit    *mockAudit
}

func offerOf(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

// newFixture wires a checkout service around a single user cart holding
// p1 x2 at 10.00 and p2 x1 at list 30.00 / offer 25.00.
func newFixture() *fixture {
	f := &fixture{
		carts: &mockCartRepo{byUser: map[string]*cart.Cart{
			"u1": {
				ID:     "c1",
				UserID: "u1",
				Items: []cart.Item{
					{ID: "i1", ProductID: "p1", Quantity: 2},
					{ID: "i2", ProductID: "p2", Quantity: 1},
				},
			},
		}},
		products: &mockProductRepo{byID: map[string]product.Product{
			"p1": {ID: "p1", Name: "Widget", Price: d("10.00"), Category: "tools", Quantity: 100},
			"p2": {ID: "p2", Name: "Gadget", Price: d("30.00"), OfferPrice: offerOf("25.00"), Category: "tools", Quantity: 100},
		}},
		ledger:   &mockLedger{stock: map[string]int{"p1": 100, "p2": 100}},
		coupons:  &mockCouponRepo{},
		orders:   &mockOrderRepo{byID: map[string]*Order{}},
		notifier: &mockNotifier{},
		audit:    &mockAudit{},
	}

	f.svc = NewService(Config{
		Carts:    f.carts,
		Products: f.products,
		Stock:    f.ledger,
		Coupons:  f.coupons,
		Orders:   f.orders,
		Tx:       passTx{},
		Notifier: f.notifier,
		Audit:    f.audit,
		VATRate:  d("0.20"),
		Retry:    RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond},
		Logger:   zap.NewNop(),
	})
	f.svc.sleep = func(time.Duration) {}
	return f
}

// --- Tests ---

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture()
	f.carts.byUser["u1"].Items = nil

	_, err := f.svc.CreateOrder(context.Background(), "u1", nil)
	require.ErrorIs(t, err, ErrEmptySelection)
}

func TestCreateOrder_SelectionMatchesNothing(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrder(context.Background(), "u1", []string{"no-such-item"})
	require.ErrorIs(t, err, ErrEmptySelection)
	assert.Empty(t, f.orders.created)
}

func TestCreateOrder_CartNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateOrder(context.Background(), "ghost", nil)
	require.ErrorIs(t, err, cart.ErrNotFound)
}

func TestCreateOrder_FullCheckout(t *testing.T) {
	f := newFixture()

	o, err := f.svc.CreateOrder(context.Background(), "u1", nil)
	require.NoError(t, err)

	// Prices frozen at effective price: 2x10.00 + 1x25.00 = 45.00.
	require.Len(t, o.Items, 2)
	assertDecimalEqual(t, d("25.00"), o.Items[1].UnitPrice, "offer price frozen")
	assert.Equal(t, "Gadget", o.Items[1].ProductName)

	assert.Equal(t, StatusPendingPayment, o.Status)
	assertDecimalEqual(t, d("0"), o.Discount, "discount")
	assertDecimalEqual(t, d("9.00"), o.VAT, "vat")
	assertDecimalEqual(t, d("54.00"), o.Total, "total")

	// Stock reserved per line.
	assert.Equal(t, 98, f.ledger.stock["p1"])
	assert.Equal(t, 99, f.ledger.stock["p2"])

	// Cart emptied and saved.
	residual := f.carts.lastSaved()
	require.NotNil(t, residual)
	assert.Empty(t, residual.Items)
	assertDecimalEqual(t, d("0"), residual.Subtotal, "residual subtotal")

	// Side effects after commit.
	require.Len(t, f.notifier.created, 1)
	assert.Equal(t, o.ID, f.notifier.created[0].ID)
	assert.Contains(t, f.audit.actions, "ORDER_CREATED")
}

func TestCreateOrder_PartialCheckoutLeavesResidue(t *testing.T) {
	f := newFixture()

	o, err := f.svc.CreateOrder(context.Background(), "u1", []string{"i1"})
	require.NoError(t, err)

	require.Len(t, o.Items, 1)
	assert.Equal(t, "p1", o.Items[0].ProductID)
	assertDecimalEqual(t, d("4.00"), o.VAT, "vat")
	assertDecimalEqual(t, d("24.00"), o.Total, "total")

	// Only the selected line was reserved.
	assert.Equal(t, 98, f.ledger.stock["p1"])
	assert.Equal(t, 100, f.ledger.stock["p2"])

	residual := f.carts.lastSaved()
	require.NotNil(t, residual)
	require.Len(t, residual.Items, 1)
	assert.Equal(t, "i2", residual.Items[0].ID)
	assertDecimalEqual(t, d("25.00"), residual.Subtotal, "residual subtotal")
	assertDecimalEqual(t, d("25.00"), residual.Total, "residual total")
}

func TestCreateOrder_InsufficientStockAborts(t *testing.T) {
	f := newFixture()
	f.ledger.stock["p2"] = 0

	_, err := f.svc.CreateOrder(context.Background(), "u1", nil)

	var insErr *stock.InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, "p2", insErr.ProductID)
	assert.Equal(t, 1, insErr.Requested)
	assert.Equal(t, 0, insErr.Available)

	// No order row and no cart save came out of the failed attempt.
	assert.Empty(t, f.orders.created)
	assert.Empty(t, f.carts.saved)
	assert.Empty(t, f.notifier.created)
}

func TestCreateOrder_CouponRecomputedOnSelection(t *testing.T) {
	f := newFixture()
	f.carts.byUser["u1"].CouponCode = "TEN"
	f.coupons.rule = &coupon.Rule{
		Code: "TEN", Scope: coupon.ScopeGeneral, Type: coupon.DiscountPercentage,
		Value: d("10"), Active: true,
	}

	o, err := f.svc.CreateOrder(context.Background(), "u1", []string{"i1"})
	require.NoError(t, err)

	// Discount derives from the selected subset (20.00), not the whole cart.
	assertDecimalEqual(t, d("2.00"), o.Discount, "discount")
	assertDecimalEqual(t, d("3.60"), o.VAT, "vat")
	assertDecimalEqual(t, d("21.60"), o.Total, "total")

	require.Len(t, f.coupons.tracked, 1)
	assert.Equal(t, trackedUsage{"TEN", "u1", o.ID}, f.coupons.tracked[0])

	// Residual cart keeps the coupon, discount recomputed on what remains.
	residual := f.carts.lastSaved()
	require.NotNil(t, residual)
	assert.Equal(t, "TEN", residual.CouponCode)
	assertDecimalEqual(t, d("2.50"), residual.Discount, "residual discount")
	assertDecimalEqual(t, d("22.50"), residual.Total, "residual total")
}

func TestCreateOrder_VanishedCouponDegradesToZeroDiscount(t *testing.T) {
	f := newFixture()
	f.carts.byUser["u1"].CouponCode = "GONE"

	o, err := f.svc.CreateOrder(context.Background(), "u1", nil)
	require.NoError(t, err)

	assertDecimalEqual(t, d("0"), o.Discount, "discount")
	assert.Empty(t, f.coupons.tracked)
}

func TestCreateOrder_RetriesOnWriteConflict(t *testing.T) {
	f := newFixture()
	f.ledger.conflicts = 1

	o, err := f.svc.CreateOrder(context.Background(), "u1", nil)
	require.NoError(t, err)
	assertDecimalEqual(t, d("54.00"), o.Total, "total")

	// First attempt conflicted on the first reserve; second attempt reserved
	// both lines.
	assert.Equal(t, 3, f.ledger.calls)
	require.Len(t, f.orders.created, 1)
}

func TestCreateOrder_RetryExhaustionKeepsSentinel(t *testing.T) {
	f := newFixture()
	f.ledger.conflicts = 100

	_, err := f.svc.CreateOrder(context.Background(), "u1", nil)

	require.ErrorIs(t, err, stock.ErrWriteConflict)
	assert.Equal(t, 3, f.ledger.calls)
	assert.Empty(t, f.orders.created)
	assert.Empty(t, f.notifier.created)
}

func TestCreateOrder_ConcurrentBuyersCannotOversell(t *testing.T) {
	f := newFixture()
	f.products.byID["p3"] = product.Product{ID: "p3", Name: "Last One", Price: d("99.00"), Quantity: 1}
	f.ledger.stock["p3"] = 1
	f.carts.byUser["u1"] = &cart.Cart{
		ID: "c1", UserID: "u1",
		Items: []cart.Item{{ID: "i1", ProductID: "p3", Quantity: 1}},
	}
	f.carts.byUser["u2"] = &cart.Cart{
		ID: "c2", UserID: "u2",
		Items: []cart.Item{{ID: "i2", ProductID: "p3", Quantity: 1}},
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, buyer := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOrder(context.Background(), buyer, nil)
		}()
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var insErr *stock.InsufficientStockError
		require.ErrorAs(t, err, &insErr)
		rejected++
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, f.ledger.stock["p3"])
	assert.Len(t, f.orders.created, 1)
}

func TestUpdateStatus_InvalidLabel(t *testing.T) {
	f := newFixture()

	_, err := f.svc.UpdateStatus(context.Background(), "o1", "SHIPPED_MAYBE")

	var isErr *InvalidStatusError
	require.ErrorAs(t, err, &isErr)
}

func TestUpdateStatus_OrderNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.UpdateStatus(context.Background(), "missing", "PAID")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatus_TransitionNotifies(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"] = &Order{ID: "o1", BuyerID: "u1", Status: StatusPendingPayment}

	o, err := f.svc.UpdateStatus(context.Background(), "o1", "paid")
	require.NoError(t, err)

	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, StatusPaid, f.orders.statusUpdates["o1"])

	require.Len(t, f.notifier.changes, 1)
	assert.Equal(t, StatusPendingPayment, f.notifier.changes[0].previous)
	assert.Contains(t, f.audit.actions, "ORDER_STATUS_UPDATED")
}

func TestSave_RecomputesTotalsFromItems(t *testing.T) {
	f := newFixture()
	o := &Order{
		ID:      "o1",
		BuyerID: "u1",
		Items: []Item{
			{ID: "i1", ProductID: "p1", UnitPrice: d("10.00"), Quantity: 2},
		},
		Discount: d("5.00"),
		// Stale values that must be overwritten by the recomputation.
		VAT:   d("99.00"),
		Total: d("99.00"),
	}

	require.NoError(t, f.svc.Save(context.Background(), o))

	assertDecimalEqual(t, d("5.00"), o.Discount, "discount")
	assertDecimalEqual(t, d("3.00"), o.VAT, "vat")
	assertDecimalEqual(t, d("18.00"), o.Total, "total")
	require.Len(t, f.orders.totalsUpdates, 1)

	// Saving again with unchanged items yields identical totals.
	require.NoError(t, f.svc.Save(context.Background(), o))
	assertDecimalEqual(t, d("3.00"), o.VAT, "vat after resave")
	assertDecimalEqual(t, d("18.00"), o.Total, "total after resave")
}

func TestCreateOrder_ProductRemovedFromCatalog(t *testing.T) {
	f := newFixture()
	delete(f.products.byID, "p2")

	_, err := f.svc.CreateOrder(context.Background(), "u1", nil)
	require.ErrorIs(t, err, product.ErrNotFound)
	assert.Empty(t, f.orders.created)
}
