package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Payment    PaymentConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Commission CommissionConfig
	Booking    BookingConfig
	CORS       CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string // development, staging, production
	LogLevel        string // debug, info, warn, error
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	Driver             string // "postgres" (lib/pq) or "pgx"
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	DefaultGateway  string // "payable" or "stripe"
	DefaultCurrency string
	Payable         PayableConfig
	Stripe          StripeConfig
}

// PayableConfig holds PAYable IPG configuration
type PayableConfig struct {
	Environment   string // "sandbox" or "production"
	MerchantKey   string
	MerchantToken string // SECRET - never expose to client
	LogoURL       string
	ReturnURL     string
	WebhookURL    string
}

// StripeConfig holds Stripe configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// RedisConfig holds the availability search cache configuration
type RedisConfig struct {
	URL            string // empty disables the cache
	SearchCacheTTL time.Duration
}

// KafkaConfig holds the domain event publisher configuration
type KafkaConfig struct {
	Brokers []string // empty disables publishing
	Topic   string
}

// CommissionConfig holds commission accrual configuration
type CommissionConfig struct {
	// DefaultRate applies only to agents whose commission_rate column is NULL.
	DefaultRate decimal.Decimal
}

// BookingConfig holds booking-related configuration
type BookingConfig struct {
	ReferencePrefix string
	MaxParticipants int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", "smarttransit-auth"),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Payment: PaymentConfig{
			DefaultGateway:  getEnv("PAYMENT_DEFAULT_GATEWAY", "payable"),
			DefaultCurrency: getEnv("PAYMENT_DEFAULT_CURRENCY", "LKR"),
			Payable: PayableConfig{
				Environment:   getEnv("PAYABLE_ENVIRONMENT", "sandbox"),
				MerchantKey:   getEnv("PAYABLE_MERCHANT_KEY", ""),
				MerchantToken: getEnv("PAYABLE_MERCHANT_TOKEN", ""),
				LogoURL:       getEnv("PAYABLE_LOGO_URL", ""),
				ReturnURL:     getEnv("PAYABLE_RETURN_URL", ""),
				WebhookURL:    getEnv("PAYABLE_WEBHOOK_URL", ""),
			},
			Stripe: StripeConfig{
				SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
				WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			},
		},
		Redis: RedisConfig{
			URL:            getEnv("REDIS_URL", ""),
			SearchCacheTTL: getEnvAsDuration("SEARCH_CACHE_TTL", 15*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_BOOKING_TOPIC", "tourism.booking-events"),
		},
		Commission: CommissionConfig{
			DefaultRate: getEnvAsDecimal("COMMISSION_DEFAULT_RATE", decimal.RequireFromString("0.15")),
		},
		Booking: BookingConfig{
			ReferencePrefix: getEnv("BOOKING_REFERENCE_PREFIX", "TB"),
			MaxParticipants: getEnvAsInt("BOOKING_MAX_PARTICIPANTS", 50),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

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

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Commission.DefaultRate.IsNegative() || c.Commission.DefaultRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("COMMISSION_DEFAULT_RATE must be between 0 and 1")
	}

	switch c.Payment.DefaultGateway {
	case "payable":
		if c.Server.Environment == "production" && (c.Payment.Payable.MerchantKey == "" || c.Payment.Payable.MerchantToken == "") {
			return fmt.Errorf("PAYABLE_MERCHANT_KEY and PAYABLE_MERCHANT_TOKEN are required in production")
		}
	case "stripe":
		if c.Payment.Stripe.SecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when stripe is the default gateway")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_DEFAULT_GATEWAY: %s (must be 'payable' or 'stripe')", c.Payment.DefaultGateway)
	}

	return nil
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		log.Printf("Invalid decimal value for %s, using default: %s", key, defaultValue)
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
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
