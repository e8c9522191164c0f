package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MergeOnLogin folds an anonymous session cart into the cart of a freshly
// authenticated user and deletes the anonymous cart.
//
// The merge must never block a login: any single item that would exceed
// live stock after summing quantities is skipped and logged, and a coupon
// carried by the anonymous cart is dropped silently when it no longer
// validates against the merged cart.
func (s *Service) MergeOnLogin(ctx context.Context, sessionID, userID string) (*Cart, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, ErrBadSessionID
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	userCart, err := s.getOrCreate(ctx, UserOwner(userID))
	if err != nil {
		return nil, err
	}

	anon, err := s.carts.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return userCart, s.saveWithTotals(ctx, userCart)
		}
		return nil, errors.Wrap(err, "load anonymous cart")
	}

	s.mergeItems(ctx, userCart, anon)
	s.mergeCoupon(ctx, userCart, anon)

	if err := s.carts.Delete(ctx, anon.ID); err != nil {
		return nil, errors.Wrap(err, "delete anonymous cart")
	}

	return userCart, s.saveWithTotals(ctx, userCart)
}

func (s *Service) mergeItems(ctx context.Context, userCart, anon *Cart) {
	for _, anonItem := range anon.Items {
		p, err := s.products.GetByID(ctx, anonItem.ProductID)
		if err != nil {
			s.lg.Warn("skipping merge item: product unavailable",
				zap.String("product_id", anonItem.ProductID),
				zap.Error(err))
			continue
		}

		totalQty := anonItem.Quantity
		existing := userCart.ItemByProduct(p.ID)
		if existing != nil {
			totalQty += existing.Quantity
		}
		if totalQty > p.Quantity {
			s.lg.Warn("skipping merge item: insufficient stock",
				zap.String("product_id", p.ID),
				zap.Int("requested", totalQty),
				zap.Int("available", p.Quantity))
			continue
		}

		if existing != nil {
			existing.Quantity = totalQty
		} else {
			userCart.Items = append(userCart.Items, Item{
				ID:        uuid.New().String(),
				ProductID: p.ID,
				Quantity:  anonItem.Quantity,
			})
		}
	}
}

func (s *Service) mergeCoupon(ctx context.Context, userCart, anon *Cart) {
	if anon.CouponCode == "" {
		return
	}

	items, subtotal, err := s.pricedItems(ctx, userCart)
	if err != nil {
		s.lg.Warn("dropping coupon from anonymous cart: price lookup failed",
			zap.String("code", anon.CouponCode),
			zap.Error(err))
		return
	}
	if _, err := s.validator.Validate(ctx, anon.CouponCode, userCart.UserID, subtotal, items); err != nil {
		s.lg.Warn("dropping coupon from anonymous cart",
			zap.String("code", anon.CouponCode),
			zap.Error(err))
		return
	}

	userCart.CouponCode = anon.CouponCode
}
