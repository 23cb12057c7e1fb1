package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"rentloop-be/internal/logger"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

var ErrMissingDBConfig = errors.New("database environment variables not loaded properly")

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string
	Storage    string

	SecretKey            string
	PaymentWebhookSecret string
	InternalServiceKey   string
	AllowedOrigin        string

	TaxRatePercent decimal.Decimal
	QuotationTTL   time.Duration

	LateFeeMode    string
	LateFeeAmount  int64
	LateFeePercent decimal.Decimal
	LateFeeUnit    time.Duration

	LedgerMaxAttempts   int
	LedgerLockTimeout   time.Duration
	SyncDebounce        time.Duration
	ExpirySweepInterval time.Duration
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:               os.Getenv("DB_HOST"),
		DBUser:               os.Getenv("DB_USER"),
		DBPassword:           os.Getenv("DB_PASSWORD"),
		DBName:               os.Getenv("DB_NAME"),
		DBPort:               os.Getenv("DB_PORT"),
		AppPort:              envOr("APP_PORT", "8080"),
		AppEnv:               os.Getenv("APP_ENV"),
		Storage:              strings.ToLower(envOr("STORAGE", StoragePostgres)),
		SecretKey:            os.Getenv("SECRET_KEY"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		InternalServiceKey:   os.Getenv("INTERNAL_SERVICE_KEY"),
		AllowedOrigin:        envOr("ALLOWED_ORIGIN", "http://localhost:3000"),

		TaxRatePercent: envDecimal("TAX_RATE_PERCENT", decimal.NewFromInt(18)),
		QuotationTTL:   envDuration("QUOTATION_TTL", 30*time.Minute),

		LateFeeMode:    strings.ToLower(envOr("LATE_FEE_MODE", "flat")),
		LateFeeAmount:  envInt64("LATE_FEE_AMOUNT", 0),
		LateFeePercent: envDecimal("LATE_FEE_PERCENT", decimal.Zero),
		LateFeeUnit:    envDuration("LATE_FEE_UNIT", 24*time.Hour),

		LedgerMaxAttempts:   int(envInt64("LEDGER_MAX_ATTEMPTS", 4)),
		LedgerLockTimeout:   envDuration("LEDGER_LOCK_TIMEOUT", 2*time.Second),
		SyncDebounce:        envDuration("SYNC_DEBOUNCE", 300*time.Millisecond),
		ExpirySweepInterval: envDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
	}

	return cfg
}

// Validate reports settings the selected storage backend cannot run without.
func (c *Config) Validate() error {
	if c.Storage == StoragePostgres && c.DBHost == "" {
		return ErrMissingDBConfig
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		warnInvalid(key, raw)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		warnInvalid(key, raw)
		return fallback
	}
	return d
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		warnInvalid(key, raw)
		return fallback
	}
	return d
}

func warnInvalid(key, raw string) {
	logger.L().Warn("invalid config value, using default",
		zap.String("key", key),
		zap.String("value", raw),
	)
}
