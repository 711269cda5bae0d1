package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"SERVER_ADDRESS", "PUBLIC_BASE_URL", "RECEIPT_CALLBACK_URL", "DB_DRIVER", "DATABASE_URL",
	"VENDOR_URL", "VENDOR_TIMEOUT", "VENDOR_SIMULATOR", "VENDOR_SUCCESS_RATE", "VENDOR_CALLBACK_DELAY",
	"DISPATCH_WORKERS", "DISPATCH_QUEUE_SIZE", "QUEUE_DRIVER", "AMQP_URL", "AMQP_QUEUE",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "RECEIPT_CACHE_TTL", "AUTH_JWT_SECRET",
	"AUDIENCE_PUSHDOWN", "LOG_LEVEL",
}

// clearTestEnv unsets every key. t.Setenv records the previous value so
// it is restored when the test ends.
func clearTestEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/crm?sslmode=disable")
	t.Setenv("VENDOR_URL", "http://localhost:8080/vendor/send")
}

func TestLoadAll_Defaults(t *testing.T) {
	clearTestEnv(t)
	requiredEnv(t)

	cfg, err := LoadAll()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Vendor.Timeout)
	assert.False(t, cfg.Vendor.Simulator)
	assert.Equal(t, 0.9, cfg.Vendor.SuccessRate)
	assert.Equal(t, 8, cfg.Dispatch.Workers)
	assert.Equal(t, 256, cfg.Dispatch.QueueSize)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, "campaign_sends", cfg.Queue.Name)
	assert.False(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Audience.Pushdown)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Equal(t, "http://localhost:8080/webhooks/delivery-receipts", cfg.CallbackURL())
}

func TestLoadAll_Overrides(t *testing.T) {
	clearTestEnv(t)
	requiredEnv(t)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("VENDOR_TIMEOUT", "250ms")
	t.Setenv("VENDOR_SIMULATOR", "true")
	t.Setenv("DISPATCH_WORKERS", "3")
	t.Setenv("QUEUE_DRIVER", "amqp")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RECEIPT_CACHE_TTL", "1h")
	t.Setenv("AUDIENCE_PUSHDOWN", "false")
	t.Setenv("PUBLIC_BASE_URL", "https://crm.example.com/")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadAll()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Vendor.Timeout)
	assert.True(t, cfg.Vendor.Simulator)
	assert.Equal(t, 3, cfg.Dispatch.Workers)
	assert.Equal(t, "amqp", cfg.Queue.Driver)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.False(t, cfg.Audience.Pushdown)
	assert.Equal(t, "https://crm.example.com/webhooks/delivery-receipts", cfg.CallbackURL())

	t.Setenv("RECEIPT_CALLBACK_URL", "https://hooks.example.com/r")
	cfg, err = LoadAll()
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/r", cfg.CallbackURL())
}

func TestLoadAll_ReportsEveryProblem(t *testing.T) {
	clearTestEnv(t)
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DISPATCH_WORKERS", "0")
	t.Setenv("QUEUE_DRIVER", "kafka")
	t.Setenv("VENDOR_SUCCESS_RATE", "1.5")
	t.Setenv("LOG_LEVEL", "loud")

	_, err := LoadAll()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"DATABASE_URL is required",
		"VENDOR_URL is required",
		"DB_DRIVER must be postgres or sqlite",
		"DISPATCH_WORKERS must be > 0",
		"QUEUE_DRIVER must be memory or amqp",
		"VENDOR_SUCCESS_RATE must be between 0 and 1",
		"LOG_LEVEL is invalid",
	} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %v", want, err)
	}
}

func TestLoadAll_InvalidDuration(t *testing.T) {
	clearTestEnv(t)
	requiredEnv(t)
	t.Setenv("VENDOR_TIMEOUT", "soon")

	_, err := LoadAll()
	assert.ErrorContains(t, err, "parse env")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
}
