package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (ECOM_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string   `default:"0.0.0.0:8080" usage:"Ops server listen address (health probes)"`
	DatabaseURL  string   `usage:"PostgreSQL connection URL (ECOM_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr    string   `default:"" usage:"Redis address for the product cache; empty disables caching" flag:"redis-addr"`
	KafkaBrokers []string `default:"" usage:"Kafka broker addresses; empty logs order events instead" flag:"kafka-brokers"`
	KafkaTopic   string   `default:"order-events" usage:"Kafka topic for order events" flag:"kafka-topic"`
	VATRate      string   `default:"0.20" usage:"VAT rate applied to the taxable amount" flag:"vat-rate"`
	Checkout     CheckoutConfig
	Graceful     GracefulConfig
}

// CheckoutConfig bounds the optimistic-lock retry loop in the checkout
// pipeline.
type CheckoutConfig struct {
	MaxAttempts int           `default:"3"     usage:"Checkout attempts before giving up on write conflicts" flag:"checkout-max-attempts"`
	Backoff     time.Duration `default:"100ms" usage:"Delay between checkout attempts" flag:"checkout-backoff"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// VATRateDecimal parses the configured VAT rate.
func (c *Config) VATRateDecimal() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.VATRate)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse VAT rate %q", c.VATRate)
	}
	return rate, nil
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ECOM",
		Files:     []string{"config.yaml", "/etc/ecommerce-core/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set ECOM_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.VATRateDecimal(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's ECOM_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
