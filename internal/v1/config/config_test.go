package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnv_MissingPort(t *testing.T) {
	t.Setenv("PORT", "")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT is required")
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be a valid port number")
}

func TestValidateEnv_Defaults(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("PUBLIC_ADDRESS", "")
	t.Setenv("REDIS_ENABLED", "")
	t.Setenv("GO_ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("REMOTE_ROOM_TIMEOUT_MS", "")
	t.Setenv("SEAT_RESERVATION_TTL_SECONDS", "")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "::", cfg.PublicAddress)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.RemoteRoomTimeout)
	assert.Equal(t, 15*time.Second, cfg.SeatReservationTTL)
	assert.Equal(t, "1000-M", cfg.RateLimitAPIGlobal)
}

func TestValidateEnv_RedisEnabled(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	assert.Equal(t, "hunter2", cfg.RedisPassword)
}

func TestValidateEnv_RedisInvalidAddr(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "not-a-host-port")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR must be in format")
}

func TestValidateEnv_RemoteRoomTimeoutOverride(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("REDIS_ENABLED", "")
	t.Setenv("REMOTE_ROOM_TIMEOUT_MS", "250")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.RemoteRoomTimeout)
}

func TestValidateEnv_OtelRequiresCollector(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("REDIS_ENABLED", "")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_COLLECTOR_ADDR", "")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTEL_COLLECTOR_ADDR is required")
}

func TestIsValidHostPort(t *testing.T) {
	assert.True(t, isValidHostPort("localhost:6379"))
	assert.True(t, isValidHostPort("10.0.0.1:1"))
	assert.False(t, isValidHostPort("localhost"))
	assert.False(t, isValidHostPort(":6379"))
	assert.False(t, isValidHostPort("host:0"))
	assert.False(t, isValidHostPort("host:notaport"))
}
