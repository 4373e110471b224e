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
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Shipping    ShippingConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// ShippingConfig selects the delivery rate provider.
type ShippingConfig struct {
	URL     string        `usage:"Rate service base URL; empty quotes FlatFee for every postal code" flag:"shipping-url"`
	FlatFee string        `default:"5.00" usage:"Rate quoted when no rate service is configured" flag:"shipping-flat-fee"`
	Timeout time.Duration `default:"5s" usage:"Rate service request timeout" flag:"shipping-timeout"`
}

// Fee parses FlatFee.
func (c ShippingConfig) Fee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(c.FlatFee)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse flat fee %q", c.FlatFee)
	}
	return fee, nil
}

// KafkaConfig controls order event publishing.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers; empty disables order events" flag:"kafka-brokers"`
	Topic   string   `default:"order.placed" usage:"Topic for order.placed events" flag:"kafka-topic"`
}

// RateLimitConfig throttles order placement per client.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max order placements per client per window; 0 disables"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from command line flags, environment
// variables and YAML config files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Args:      args,
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.Shipping.Fee(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL and PORT
// variables onto the ORDERS_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
