package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/booking?sslmode=disable")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PAYMENT_DEFAULT_GATEWAY", "payable")
	t.Setenv("ENVIRONMENT", "development")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("COMMISSION_DEFAULT_RATE", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SEARCH_CACHE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "0.15", cfg.Commission.DefaultRate.String())
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Second, cfg.Redis.SearchCacheTTL)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("COMMISSION_DEFAULT_RATE", "0.08")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SEARCH_CACHE_TTL", "45s")
	t.Setenv("BOOKING_MAX_PARTICIPANTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "0.08", cfg.Commission.DefaultRate.String())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 45*time.Second, cfg.Redis.SearchCacheTTL)
	assert.Equal(t, 50, cfg.Booking.MaxParticipants)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing database url", map[string]string{"DATABASE_URL": ""}, "DATABASE_URL is required"},
		{"unknown driver", map[string]string{"DATABASE_DRIVER": "mysql"}, "invalid DATABASE_DRIVER"},
		{"missing jwt secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET is required"},
		{"rate above one", map[string]string{"COMMISSION_DEFAULT_RATE": "1.5"}, "COMMISSION_DEFAULT_RATE"},
		{"unknown gateway", map[string]string{"PAYMENT_DEFAULT_GATEWAY": "paypal"}, "invalid PAYMENT_DEFAULT_GATEWAY"},
		{"stripe without key", map[string]string{"PAYMENT_DEFAULT_GATEWAY": "stripe", "STRIPE_SECRET_KEY": ""}, "STRIPE_SECRET_KEY is required"},
		{"payable in production without credentials", map[string]string{
			"ENVIRONMENT":            "production",
			"PAYABLE_MERCHANT_KEY":   "",
			"PAYABLE_MERCHANT_TOKEN": "",
		}, "PAYABLE_MERCHANT_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("DATABASE_DRIVER", "")
			t.Setenv("COMMISSION_DEFAULT_RATE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
