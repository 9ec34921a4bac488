package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (charge lock and notification queue)
	Redis RedisConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Security configuration
	Security SecurityConfig

	// Payment provider configuration
	Stripe StripeConfig

	// Pricing configuration
	Pricing PricingConfig

	// Cancellation policy
	Cancellation CancellationConfig

	// Background scheduler configuration
	Scheduler SchedulerConfig

	// Availability configuration
	Availability AvailabilityConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Notification dispatch configuration
	Notifications NotificationConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr          string // empty disables the cross-process charge lock
	Password      string
	DB            int
	QueueDB       int
	ChargeLockTTL time.Duration
}

// Enabled reports whether a Redis address is configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	BcryptCost       int
	LockPINDigits    int
	EnableRequestLog bool
}

// StripeConfig holds payment provider settings
type StripeConfig struct {
	SecretKey     string // SECRET - never expose to client
	WebhookSecret string // signing secret for webhook verification
	APIBaseURL    string // empty means the SDK default
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
}

// PricingConfig supplies the daily rate. Amounts are in minor currency units.
type PricingConfig struct {
	Currency          string
	BaseDailyPrice    int64
	ClassicMultiplier float64
	ProMultiplier     float64
}

// RefundTier grants Percent of the total when cancelling at least MinHoursBeforeStart ahead
type RefundTier struct {
	MinHoursBeforeStart int
	Percent             int
}

// CancellationConfig is the cancellation policy table
type CancellationConfig struct {
	Tiers          []RefundTier // sorted by MinHoursBeforeStart descending
	TransactionFee int64
}

// SchedulerConfig holds cron settings for the status sync job
type SchedulerConfig struct {
	Enabled        bool
	StatusSyncSpec string // cron spec with seconds field
	SyncWorkers    int
	SyncBatchSize  int
}

// AvailabilityConfig controls how bookings block boxes
type AvailabilityConfig struct {
	OverdueHoldback time.Duration // how long past now an unreturned box stays blocked
}

// RateLimitConfig holds inbound rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// NotificationConfig holds notification queue settings
type NotificationConfig struct {
	Enabled bool
	Queue   string
}

// DefaultCancellationTiers is the policy used when CANCELLATION_TIERS is unset
const DefaultCancellationTiers = "72:100,24:50,0:0"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	tiers, err := ParseRefundTiers(getEnv("CANCELLATION_TIERS", DefaultCancellationTiers))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			QueueDB:       getEnvAsInt("REDIS_QUEUE_DB", 1),
			ChargeLockTTL: time.Duration(getEnvAsInt("CHARGE_LOCK_TTL_SECONDS", 30)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Stripe-Signature"}),
		},
		Security: SecurityConfig{
			BcryptCost:       getEnvAsInt("BCRYPT_COST", 12),
			LockPINDigits:    getEnvAsInt("LOCK_PIN_DIGITS", 6),
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			APIBaseURL:    getEnv("STRIPE_API_BASE_URL", ""),
			Timeout:       time.Duration(getEnvAsInt("STRIPE_TIMEOUT_SECONDS", 10)) * time.Second,
			MaxRetries:    getEnvAsInt("STRIPE_MAX_RETRIES", 2),
			RetryBackoff:  time.Duration(getEnvAsInt("STRIPE_RETRY_BACKOFF_MS", 250)) * time.Millisecond,
		},
		Pricing: PricingConfig{
			Currency:          strings.ToLower(getEnv("PRICING_CURRENCY", "eur")),
			BaseDailyPrice:    getEnvAsInt64("PRICING_BASE_DAILY_PRICE", 1500),
			ClassicMultiplier: getEnvAsFloat("PRICING_CLASSIC_MULTIPLIER", 1.0),
			ProMultiplier:     getEnvAsFloat("PRICING_PRO_MULTIPLIER", 1.5),
		},
		Cancellation: CancellationConfig{
			Tiers:          tiers,
			TransactionFee: getEnvAsInt64("CANCELLATION_TRANSACTION_FEE", 0),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getEnvAsBool("STATUS_SYNC_ENABLED", true),
			StatusSyncSpec: getEnv("STATUS_SYNC_SPEC", "0 */5 * * * *"),
			SyncWorkers:    getEnvAsInt("STATUS_SYNC_WORKERS", 8),
			SyncBatchSize:  getEnvAsInt("STATUS_SYNC_BATCH_SIZE", 500),
		},
		Availability: AvailabilityConfig{
			OverdueHoldback: time.Duration(getEnvAsInt("OVERDUE_HOLDBACK_HOURS", 24)) * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Notifications: NotificationConfig{
			Enabled: getEnvAsBool("NOTIFICATIONS_ENABLED", true),
			Queue:   getEnv("NOTIFICATIONS_QUEUE", "notifications"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	if c.Pricing.BaseDailyPrice <= 0 {
		return fmt.Errorf("PRICING_BASE_DAILY_PRICE must be positive")
	}

	if c.Pricing.ClassicMultiplier <= 0 || c.Pricing.ProMultiplier <= 0 {
		return fmt.Errorf("pricing tier multipliers must be positive")
	}

	if len(c.Cancellation.Tiers) == 0 {
		return fmt.Errorf("CANCELLATION_TIERS must define at least one tier")
	}

	if c.Cancellation.TransactionFee < 0 {
		return fmt.Errorf("CANCELLATION_TRANSACTION_FEE cannot be negative")
	}

	if c.Scheduler.SyncWorkers <= 0 {
		return fmt.Errorf("STATUS_SYNC_WORKERS must be positive")
	}

	if c.Security.LockPINDigits < 4 || c.Security.LockPINDigits > 10 {
		return fmt.Errorf("LOCK_PIN_DIGITS must be between 4 and 10")
	}

	return nil
}

// ParseRefundTiers parses "hours:percent" pairs, e.g. "72:100,24:50,0:0".
// Tiers are returned sorted by hours descending; percent must not increase as hours shrink.
func ParseRefundTiers(raw string) ([]RefundTier, error) {
	var tiers []RefundTier
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid cancellation tier %q (expected hours:percent)", part)
		}
		hours, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || hours < 0 {
			return nil, fmt.Errorf("invalid cancellation tier hours in %q", part)
		}
		percent, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || percent < 0 || percent > 100 {
			return nil, fmt.Errorf("invalid cancellation tier percent in %q", part)
		}
		tiers = append(tiers, RefundTier{MinHoursBeforeStart: hours, Percent: percent})
	}

	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinHoursBeforeStart > tiers[j].MinHoursBeforeStart
	})

	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinHoursBeforeStart == tiers[i-1].MinHoursBeforeStart {
			return nil, fmt.Errorf("duplicate cancellation tier for %d hours", tiers[i].MinHoursBeforeStart)
		}
		if tiers[i].Percent > tiers[i-1].Percent {
			return nil, fmt.Errorf("cancellation tier for %d hours refunds more than an earlier tier", tiers[i].MinHoursBeforeStart)
		}
	}

	return tiers, nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
