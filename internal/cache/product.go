// Package cache layers a redis read-through cache over the product catalog.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/datasaz/ecommerce-core/internal/domain/product"
	"github.com/datasaz/ecommerce-core/internal/domain/stock"
)

const (
	keyProduct = "product:%s"

	// TTLProduct bounds staleness of cached catalog reads. Stock checks made
	// against a cached product are advisory anyway; the authoritative check
	// happens inside the checkout transaction.
	TTLProduct = 5 * time.Minute
)

// New creates a redis client for the given address.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

var (
	_ product.Repository = (*ProductCache)(nil)
	_ stock.Ledger       = (*ProductCache)(nil)
)

// ProductCache decorates a product repository and stock ledger with a
// per-product redis cache. Single-product reads are cached; reservations
// pass through and invalidate the touched product so the next read observes
// the decremented quantity.
type ProductCache struct {
	next   product.Repository
	ledger stock.Ledger
	rdb    *redis.Client
	ttl    time.Duration
	lg     *zap.Logger
}

// NewProductCache wraps next and ledger with caching through rdb.
func NewProductCache(next product.Repository, ledger stock.Ledger, rdb *redis.Client, lg *zap.Logger) *ProductCache {
	return &ProductCache{
		next:   next,
		ledger: ledger,
		rdb:    rdb,
		ttl:    TTLProduct,
		lg:     lg.Named("cache"),
	}
}

// List always hits the backing repository. Full-catalog listings are rare in
// the checkout path and not worth keeping coherent.
func (c *ProductCache) List(ctx context.Context) ([]product.Product, error) {
	return c.next.List(ctx)
}

// GetByID serves the product from redis when present, falling back to the
// repository and filling the cache on miss. Redis failures degrade to the
// repository instead of failing the read.
func (c *ProductCache) GetByID(ctx context.Context, id string) (*product.Product, error) {
	key := fmt.Sprintf(keyProduct, id)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p product.Product
		if err := json.Unmarshal(raw, &p); err == nil {
			return &p, nil
		}
		c.lg.Warn("dropping undecodable cache entry", zap.String("key", key))
		c.rdb.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.lg.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	p, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.lg.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return p, nil
}

// GetByIDs passes through to the repository. Multi-product reads feed totals
// computation, which wants the freshest quantities available.
func (c *ProductCache) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	return c.next.GetByIDs(ctx, ids)
}

// CheckAndReserve delegates to the ledger and, on success, invalidates the
// product's cache entry.
func (c *ProductCache) CheckAndReserve(ctx context.Context, productID string, quantity int) error {
	if err := c.ledger.CheckAndReserve(ctx, productID, quantity); err != nil {
		return err
	}
	key := fmt.Sprintf(keyProduct, productID)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.lg.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}
