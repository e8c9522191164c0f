// Command seed-db loads the demo catalog, users, and coupons into the
// database. Re-running it is safe: every write is an upsert.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/datasaz/ecommerce-core/internal/repository"
)

const (
	upsertProductSQL = `INSERT INTO products (id, name, price, offer_price, category, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			offer_price = EXCLUDED.offer_price,
			category = EXCLUDED.category,
			quantity = EXCLUDED.quantity`

	upsertUserSQL = `INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email`

	upsertCouponSQL = `INSERT INTO coupons (code, scope, target_product_id, target_category, discount_type,
			value, max_discount, min_order_amount, max_uses, max_uses_per_user, active, description)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, true, $11)
		ON CONFLICT (code) DO UPDATE SET
			scope = EXCLUDED.scope,
			target_product_id = EXCLUDED.target_product_id,
			target_category = EXCLUDED.target_category,
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			max_discount = EXCLUDED.max_discount,
			min_order_amount = EXCLUDED.min_order_amount,
			max_uses = EXCLUDED.max_uses,
			max_uses_per_user = EXCLUDED.max_uses_per_user,
			active = true,
			description = EXCLUDED.description`
)

type productJSON struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Price      decimal.Decimal  `json:"price"`
	OfferPrice *decimal.Decimal `json:"offer_price,omitempty"`
	Category   string           `json:"category"`
	Quantity   int              `json:"quantity"`
}

type couponSeed struct {
	code           string
	scope          string
	targetProduct  string
	targetCategory string
	discountType   string
	value          string
	maxDiscount    string
	minOrder       string
	maxUses        int
	maxUsesPerUser int
	description    string
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedUsers(ctx, pool); err != nil {
		return errors.Wrap(err, "seed users")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Price, p.OfferPrice, p.Category, p.Quantity,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo users")

	users := [][2]string{
		{"u-alice", "alice@example.com"},
		{"u-bob", "bob@example.com"},
	}

	for _, u := range users {
		if _, err := pool.Exec(ctx, upsertUserSQL, u[0], u[1]); err != nil {
			return errors.Wrapf(err, "upsert user %s", u[0])
		}
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo coupons")

	coupons := []couponSeed{
		{
			code: "WELCOME10", scope: "general", discountType: "percentage",
			value: "10", maxDiscount: "0", minOrder: "0",
			maxUsesPerUser: 1,
			description:    "Welcome: 10% off first order",
		},
		{
			code: "SAVE20", scope: "general", discountType: "fixed",
			value: "20", maxDiscount: "0", minOrder: "100",
			description: "$20 off orders over $100",
		},
		{
			code: "COFFEELOVER", scope: "category", targetCategory: "coffee",
			discountType: "percentage", value: "15", maxDiscount: "30", minOrder: "0",
			description: "15% off coffee, up to $30",
		},
	}

	for _, c := range coupons {
		value, err := decimal.NewFromString(c.value)
		if err != nil {
			return errors.Wrapf(err, "parse value for coupon %s", c.code)
		}
		maxDiscount, err := decimal.NewFromString(c.maxDiscount)
		if err != nil {
			return errors.Wrapf(err, "parse max discount for coupon %s", c.code)
		}
		minOrder, err := decimal.NewFromString(c.minOrder)
		if err != nil {
			return errors.Wrapf(err, "parse minimum order for coupon %s", c.code)
		}

		if _, err := pool.Exec(ctx, upsertCouponSQL,
			c.code, c.scope, c.targetProduct, c.targetCategory, c.discountType,
			value, maxDiscount, minOrder, c.maxUses, c.maxUsesPerUser, c.description,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code), slog.String("description", c.description))
	}

	return nil
}
