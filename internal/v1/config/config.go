package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port string

	// Cluster identity. PublicAddress is the address other nodes and proxies
	// use to reach this process; defaults to "::" (any).
	PublicAddress string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	DevelopmentMode bool
	AllowedOrigins  string

	// IPC request timeout used for every remote room call.
	RemoteRoomTimeout time.Duration

	// How long a reserved seat is held before it is released again.
	SeatReservationTTL time.Duration

	// Tracing
	OtelEnabled       bool
	OtelCollectorAddr string

	// Rate Limits
	RateLimitAPIGlobal    string
	RateLimitAPIPublic    string
	RateLimitAPIMatchmake string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: PUBLIC_ADDRESS (defaults to "::", meaning any interface)
	cfg.PublicAddress = os.Getenv("PUBLIC_ADDRESS")
	if cfg.PublicAddress == "" {
		cfg.PublicAddress = "::"
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Optional: REMOTE_ROOM_TIMEOUT_MS (defaults to 2000)
	cfg.RemoteRoomTimeout = 2000 * time.Millisecond
	if raw := os.Getenv("REMOTE_ROOM_TIMEOUT_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 1 {
			errors = append(errors, fmt.Sprintf("REMOTE_ROOM_TIMEOUT_MS must be a positive integer (got '%s')", raw))
		} else {
			cfg.RemoteRoomTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	// Optional: SEAT_RESERVATION_TTL_SECONDS (defaults to 15)
	cfg.SeatReservationTTL = 15 * time.Second
	if raw := os.Getenv("SEAT_RESERVATION_TTL_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 1 {
			errors = append(errors, fmt.Sprintf("SEAT_RESERVATION_TTL_SECONDS must be a positive integer (got '%s')", raw))
		} else {
			cfg.SeatReservationTTL = time.Duration(secs) * time.Second
		}
	}

	// Tracing (optional)
	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if cfg.OtelEnabled {
		cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OtelCollectorAddr == "" {
			errors = append(errors, "OTEL_COLLECTOR_ADDR is required when OTEL_ENABLED=true")
		}
	}

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIMatchmake = getEnvOrDefault("RATE_LIMIT_API_MATCHMAKE", "120-M")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"public_address", cfg.PublicAddress,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"remote_room_timeout", cfg.RemoteRoomTimeout,
		"seat_reservation_ttl", cfg.SeatReservationTTL,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
