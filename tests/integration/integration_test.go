//go:build integration

package integration

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/datasaz/ecommerce-core/internal/app"
	"github.com/datasaz/ecommerce-core/internal/repository"
)

var (
	pool *pgxpool.Pool
	core *app.Core
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ecom"),
		tcpostgres.WithUsername("ecom"),
		tcpostgres.WithPassword("ecom"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	pool, err = repository.NewPool(ctx, connStr)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}
	if err := seed(ctx); err != nil {
		log.Fatalf("seed: %v", err)
	}

	cfg := &app.Config{
		DatabaseURL: connStr,
		VATRate:     "0.20",
		Checkout:    app.CheckoutConfig{MaxAttempts: 3, Backoff: 10 * time.Millisecond},
	}
	core, err = app.NewCore(zap.NewNop(), cfg, pool)
	if err != nil {
		log.Fatalf("wire core: %v", err)
	}

	return m.Run()
}

func seed(ctx context.Context) error {
	statements := []struct {
		sql  string
		args []any
	}{
		{
			sql: `INSERT INTO products (id, name, price, offer_price, category, quantity) VALUES
				('p-widget', 'Widget', 10.00, NULL, 'tools', 100),
				('p-gadget', 'Gadget', 30.00, 25.00, 'tools', 100),
				('p-rare', 'Rare Thing', 99.00, NULL, 'tools', 1)`,
		},
		{
			sql: `INSERT INTO users (id, email) VALUES
				('u-int-1', 'one@example.com'),
				('u-int-2', 'two@example.com')`,
		},
		{
			sql: `INSERT INTO coupons (code, scope, discount_type, value, active, description) VALUES
				('TEN', 'general', 'percentage', 10, true, '10% off')`,
		},
	}
	for _, st := range statements {
		if _, err := pool.Exec(ctx, st.sql, st.args...); err != nil {
			return err
		}
	}
	return nil
}

func resetState(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, sql := range []string{
		`DELETE FROM cart_items`,
		`DELETE FROM carts`,
		`DELETE FROM coupon_usages`,
		`DELETE FROM order_items`,
		`DELETE FROM orders`,
		`DELETE FROM audit_log`,
		`UPDATE products SET quantity = 100, version = 0 WHERE id IN ('p-widget', 'p-gadget')`,
		`UPDATE products SET quantity = 1, version = 0 WHERE id = 'p-rare'`,
	} {
		if _, err := pool.Exec(ctx, sql); err != nil {
			t.Fatalf("reset state: %v", err)
		}
	}
}
