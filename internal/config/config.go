package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port  string
	Store string // "postgres" or "memory"
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

type PaymentConfig struct {
	ProviderBaseURL string
	SecretKey       string
}

type PricingConfig struct {
	ShippingFee float64
	TaxRate     float64
}

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Payment  PaymentConfig
	Pricing  PricingConfig
}

// NewConfig reads configuration from the environment. A .env file at path
// (if non-empty) seeds the environment first; a missing .env is not an error.
func NewConfig(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}

	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.Store = getEnv("STORE", "postgres")
	if cfg.App.Store != "postgres" && cfg.App.Store != "memory" {
		return nil, fmt.Errorf("STORE must be 'postgres' or 'memory', got %q", cfg.App.Store)
	}

	if cfg.App.Store == "postgres" {
		cfg.Postgres.Host = os.Getenv("DB_HOST")
		if cfg.Postgres.Host == "" {
			return nil, fmt.Errorf("DB_HOST is required")
		}
		cfg.Postgres.Port = getEnv("DB_PORT", "5432")
		cfg.Postgres.User = os.Getenv("DB_USER")
		if cfg.Postgres.User == "" {
			return nil, fmt.Errorf("DB_USER is required")
		}
		cfg.Postgres.Password = os.Getenv("DB_PASSWORD")
		cfg.Postgres.DBName = os.Getenv("DB_NAME")
		if cfg.Postgres.DBName == "" {
			return nil, fmt.Errorf("DB_NAME is required")
		}
		cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
		cfg.Postgres.MigrationsPath = getEnv("MIGRATIONS_PATH", "migrations")

		maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
		if err != nil {
			return nil, err
		}
		cfg.Postgres.MaxConns = int32(maxConns)

		minConns, err := getEnvInt("DB_MIN_CONNS", 2)
		if err != nil {
			return nil, err
		}
		cfg.Postgres.MinConns = int32(minConns)

		lifetimeMin, err := getEnvInt("DB_MAX_CONN_LIFETIME_MINUTES", 30)
		if err != nil {
			return nil, err
		}
		cfg.Postgres.MaxConnLifetime = time.Duration(lifetimeMin) * time.Minute
	}

	cfg.Payment.ProviderBaseURL = getEnv("PAYMENT_PROVIDER_URL", "https://api.paystack.co")
	cfg.Payment.SecretKey = os.Getenv("PAYMENT_SECRET_KEY")

	shippingFee, err := getEnvFloat("SHIPPING_FEE", 0)
	if err != nil {
		return nil, err
	}
	cfg.Pricing.ShippingFee = shippingFee

	taxRate, err := getEnvFloat("TAX_RATE", 0)
	if err != nil {
		return nil, err
	}
	cfg.Pricing.TaxRate = taxRate

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}
