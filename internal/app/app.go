package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/datasaz/ecommerce-core/internal/cache"
	"github.com/datasaz/ecommerce-core/internal/domain/cart"
	"github.com/datasaz/ecommerce-core/internal/domain/coupon"
	"github.com/datasaz/ecommerce-core/internal/domain/order"
	"github.com/datasaz/ecommerce-core/internal/domain/product"
	"github.com/datasaz/ecommerce-core/internal/domain/stock"
	"github.com/datasaz/ecommerce-core/internal/notify"
	"github.com/datasaz/ecommerce-core/internal/repository"
	"github.com/datasaz/ecommerce-core/pkg/health"
	"github.com/datasaz/ecommerce-core/pkg/httpmiddleware"
)

// Core bundles the wired domain services. It is built once at startup and
// shared with integration tests, which exercise the same wiring as the
// running service.
type Core struct {
	Products product.Repository
	Stock    stock.Ledger
	Carts    *cart.Service
	Orders   *order.Service

	producer *notify.Producer
}

// NewCore wires repositories, caches, notifiers, and domain services on top
// of the given pool.
func NewCore(lg *zap.Logger, cfg *Config, pool *pgxpool.Pool) (*Core, error) {
	vatRate, err := cfg.VATRateDecimal()
	if err != nil {
		return nil, err
	}

	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	auditLog := repository.NewAuditLogRepository(pool, lg)
	txManager := repository.NewTxManager(pool)

	var (
		products product.Repository = productRepo
		ledger   stock.Ledger       = productRepo
	)
	if cfg.RedisAddr != "" {
		pc := cache.NewProductCache(productRepo, productRepo, cache.New(cfg.RedisAddr), lg)
		products, ledger = pc, pc
	}

	var (
		notifier order.Notifier
		producer *notify.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer = notify.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, 256, lg)
		notifier = notify.NewKafkaNotifier(producer, lg)
	} else {
		notifier = notify.NewLogNotifier(lg)
	}

	couponValidator := coupon.NewRepoValidator(couponRepo)
	cartService := cart.NewService(cartRepo, products, userRepo, couponValidator, couponRepo, lg)
	orderService := order.NewService(order.Config{
		Carts:    cartRepo,
		Products: products,
		Stock:    ledger,
		Coupons:  couponRepo,
		Orders:   orderRepo,
		Tx:       txManager,
		Notifier: notifier,
		Audit:    auditLog,
		VATRate:  vatRate,
		Retry: order.RetryConfig{
			MaxAttempts: cfg.Checkout.MaxAttempts,
			Backoff:     cfg.Checkout.Backoff,
		},
		Logger: lg,
	})

	return &Core{
		Products: products,
		Stock:    ledger,
		Carts:    cartService,
		Orders:   orderService,
		producer: producer,
	}, nil
}

// Start launches background workers owned by the core.
func (c *Core) Start(ctx context.Context) {
	if c.producer != nil {
		c.producer.Start(ctx)
	}
}

// Run creates all dependencies, starts the ops HTTP server, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	core, err := NewCore(lg, cfg, pool)
	if err != nil {
		return errors.Wrap(err, "wire core")
	}
	core.Start(ctx)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "ops",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if core.producer != nil {
			core.producer.WaitClosed()
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
