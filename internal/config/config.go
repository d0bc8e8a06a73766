// Package config loads service configuration from the environment and an optional .env file.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DBAutoMigrate bool   `mapstructure:"DB_AUTO_MIGRATE"`

	HealthWarehouseAPIKey     string        `mapstructure:"HEALTHWAREHOUSE_API_KEY"`
	HealthWarehouseBaseURL    string        `mapstructure:"HEALTHWAREHOUSE_API_BASE_URL"`
	HealthWarehouseCustomerID int64         `mapstructure:"HEALTHWAREHOUSE_CUSTOMER_ID"`
	HealthWarehouseTimeout    time.Duration `mapstructure:"HEALTHWAREHOUSE_TIMEOUT"`

	SerializeByIntakeKey bool     `mapstructure:"SERIALIZE_BY_INTAKE_KEY"`
	InboundAPIKeys       []string `mapstructure:"INBOUND_API_KEYS"`
	CORSOrigins          []string `mapstructure:"CORS_ORIGINS"`

	IdempotencyEnabled bool          `mapstructure:"IDEMPOTENCY_ENABLED"`
	IdempotencyTTL     time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	KafkaBrokers         []string `mapstructure:"KAFKA_BROKERS"`
	OrderEventsTopic     string   `mapstructure:"ORDER_EVENTS_TOPIC"`
	OrderDeadLetterTopic string   `mapstructure:"ORDER_DEAD_LETTER_TOPIC"`
	OutboxEnabled        bool     `mapstructure:"OUTBOX_ENABLED"`

	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	ServiceName  string `mapstructure:"SERVICE_NAME"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_AUTO_MIGRATE",
	"HEALTHWAREHOUSE_API_KEY", "HEALTHWAREHOUSE_API_BASE_URL",
	"HEALTHWAREHOUSE_CUSTOMER_ID", "HEALTHWAREHOUSE_TIMEOUT",
	"SERIALIZE_BY_INTAKE_KEY", "INBOUND_API_KEYS", "CORS_ORIGINS",
	"IDEMPOTENCY_ENABLED", "IDEMPOTENCY_TTL",
	"KAFKA_BROKERS", "ORDER_EVENTS_TOPIC", "ORDER_DEAD_LETTER_TOPIC", "OUTBOX_ENABLED",
	"OTLP_ENDPOINT", "SERVICE_NAME",
}

// Load reads configuration. It does not validate it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("HEALTHWAREHOUSE_TIMEOUT", "30s")
	v.SetDefault("SERIALIZE_BY_INTAKE_KEY", true)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("IDEMPOTENCY_ENABLED", true)
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("ORDER_EVENTS_TOPIC", "pharmacy.orders")
	v.SetDefault("ORDER_DEAD_LETTER_TOPIC", "pharmacy.orders.dlq")
	v.SetDefault("OUTBOX_ENABLED", true)
	v.SetDefault("SERVICE_NAME", "rxbridge-order-api")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range keys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.InboundAPIKeys = splitList(v.GetString("INBOUND_API_KEYS"))
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	return cfg, nil
}

// splitList parses a comma separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is complete enough to serve orders.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.HealthWarehouseAPIKey == "" {
		return fmt.Errorf("HEALTHWAREHOUSE_API_KEY is required")
	}
	if c.HealthWarehouseBaseURL == "" {
		return fmt.Errorf("HEALTHWAREHOUSE_API_BASE_URL is required")
	}
	if u, err := url.Parse(c.HealthWarehouseBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("HEALTHWAREHOUSE_API_BASE_URL must be an absolute URL, got %q", c.HealthWarehouseBaseURL)
	}
	if c.HealthWarehouseCustomerID <= 0 {
		return fmt.Errorf("HEALTHWAREHOUSE_CUSTOMER_ID must be a positive integer")
	}
	if c.HealthWarehouseTimeout <= 0 {
		return fmt.Errorf("HEALTHWAREHOUSE_TIMEOUT must be positive, got %s", c.HealthWarehouseTimeout)
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) are inconsistent", c.DBMinConns, c.DBMaxConns)
	}
	if c.OutboxEnabled && c.OrderEventsTopic == "" {
		return fmt.Errorf("ORDER_EVENTS_TOPIC is required when OUTBOX_ENABLED is true")
	}
	if c.IdempotencyEnabled && c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", c.IdempotencyTTL)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.IsProduction() && len(c.InboundAPIKeys) == 0 {
		return fmt.Errorf("INBOUND_API_KEYS is required in production")
	}
	return nil
}

// NewLogger builds the production zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if c.IsDev() {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
