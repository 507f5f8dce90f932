package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/sarathsp06/courier/internal/retry"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration
type Config struct {
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL  string `env:"DATABASE_URL" envDefault:"postgres://localhost/courier?sslmode=disable"`
	// RedisURL enables the cross-process wake-up notifier when set.
	RedisURL string `env:"REDIS_URL"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051"`

	WorkerCount       int           `env:"WORKER_COUNT" envDefault:"8"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	DeliveryTimeout   time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"30s"`
	DeliveryRateLimit float64       `env:"DELIVERY_RATE_LIMIT" envDefault:"0"`
	DeliveryLease     time.Duration `env:"DELIVERY_LEASE" envDefault:"2m"`
	HistoryRetention  time.Duration `env:"HISTORY_RETENTION" envDefault:"720h"`

	Retry RetryConfig `envPrefix:"RETRY_"`

	UserAgentProduct string `env:"USER_AGENT_PRODUCT" envDefault:"Courier"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	Environment      string `env:"ENVIRONMENT" envDefault:"development"`

	OTel OTelConfig `envPrefix:"OTEL_"`
}

// OTelConfig controls the OTLP/HTTP exporters. Nothing is exported unless
// Enabled is set.
type OTelConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Endpoint string `env:"ENDPOINT" envDefault:"localhost:4318"`
	Insecure bool   `env:"INSECURE" envDefault:"true"`
	// Headers are sent with every export, as "key:value,key:value".
	Headers        map[string]string `env:"HEADERS"`
	Traces         bool              `env:"TRACES" envDefault:"true"`
	Metrics        bool              `env:"METRICS" envDefault:"true"`
	SampleRate     float64           `env:"SAMPLE_RATE" envDefault:"1"`
	MetricInterval time.Duration     `env:"METRIC_INTERVAL" envDefault:"30s"`
}

// RetryConfig is the service-wide default retry policy.
type RetryConfig struct {
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"5"`
	InitialBackoff    time.Duration `env:"INITIAL_BACKOFF" envDefault:"1s"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`
	MaxBackoff        time.Duration `env:"MAX_BACKOFF" envDefault:"5m"`
}

// Policy converts the configured defaults into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:        r.MaxRetries,
		InitialBackoff:    r.InitialBackoff,
		BackoffMultiplier: r.BackoffMultiplier,
		MaxBackoff:        r.MaxBackoff,
	}
}

// Load reads an optional .env file and parses configuration from the
// process environment.
func Load() (*Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom parses configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that env tags cannot express.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("%w: STORE_BACKEND must be %q or %q, got %q", ErrInvalidConfig, BackendMemory, BackendPostgres, c.StoreBackend)
	}
	if c.StoreBackend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required for the postgres backend", ErrInvalidConfig)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: WORKER_COUNT must be at least 1", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 || c.DeliveryTimeout <= 0 || c.DeliveryLease <= 0 {
		return fmt.Errorf("%w: intervals and timeouts must be positive", ErrInvalidConfig)
	}
	if c.DeliveryLease <= c.DeliveryTimeout {
		return fmt.Errorf("%w: DELIVERY_LEASE must exceed DELIVERY_TIMEOUT", ErrInvalidConfig)
	}
	if c.DeliveryRateLimit < 0 {
		return fmt.Errorf("%w: DELIVERY_RATE_LIMIT must not be negative", ErrInvalidConfig)
	}
	if c.OTel.SampleRate < 0 || c.OTel.SampleRate > 1 {
		return fmt.Errorf("%w: OTEL_SAMPLE_RATE must be between 0 and 1", ErrInvalidConfig)
	}
	if c.OTel.Enabled && c.OTel.Metrics && c.OTel.MetricInterval <= 0 {
		return fmt.Errorf("%w: OTEL_METRIC_INTERVAL must be positive", ErrInvalidConfig)
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
