package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parcade/arena/internal/v1/config"
	"github.com/parcade/arena/internal/v1/driver"
	"github.com/parcade/arena/internal/v1/health"
	"github.com/parcade/arena/internal/v1/logging"
	"github.com/parcade/arena/internal/v1/matchmaker"
	"github.com/parcade/arena/internal/v1/presence"
	"github.com/parcade/arena/internal/v1/ratelimit"
	"github.com/parcade/arena/internal/v1/tracing"
	"github.com/parcade/arena/internal/v1/transport"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(context.Background(), "arena", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("Failed to shut down tracer provider", "error", err)
			}
		}()
		slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
	}

	// --- Presence & Driver Initialization ---
	// With Redis the process joins the cluster; without it the node runs in
	// single-instance mode with in-memory presence and listings.
	var clusterPresence presence.Presence
	var listingDriver driver.Driver
	var redisPresence *presence.RedisPresence

	if cfg.RedisEnabled {
		rp, err := presence.NewRedisPresence(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
		} else {
			redisPresence = rp
			clusterPresence = rp
			listingDriver = driver.NewRedisDriver(rp.Client())
			slog.Info("✅ Redis presence initialized for cluster mode", "addr", cfg.RedisAddr)
		}
	}
	if clusterPresence == nil {
		clusterPresence = presence.NewLocalPresence()
		listingDriver = driver.NewLocalDriver()
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	// --- MatchMaker ---
	port, _ := strconv.Atoi(cfg.Port)
	mm := matchmaker.New(clusterPresence, listingDriver, matchmaker.Config{
		PublicAddress:      cfg.PublicAddress,
		Port:               port,
		RemoteRoomTimeout:  cfg.RemoteRoomTimeout,
		SeatReservationTTL: cfg.SeatReservationTTL,
	})
	if err := mm.Listen(context.Background()); err != nil {
		slog.Error("Failed to join the cluster", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ MatchMaker listening", "processId", mm.ProcessID)

	// --- Rate Limiter ---
	limiter, err := ratelimit.NewRateLimiter(cfg, redisPresence.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- HTTP Server ---
	var pinger health.Pinger
	if redisPresence != nil {
		pinger = redisPresence
	}
	router := transport.NewServer(mm).Router(cfg, limiter, health.NewHandler(pinger))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Disconnect every owned room and withdraw the node from the cluster
	// before the HTTP listener stops answering.
	if err := mm.GracefulShutdown(ctx); err != nil {
		slog.Error("Error during matchmaker shutdown:", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if err := clusterPresence.Close(); err != nil {
		slog.Error("Failed to close presence backend:", "error", err)
	}
	if err := listingDriver.Close(); err != nil {
		slog.Error("Failed to close listing driver:", "error", err)
	}

	slog.Info("Server exiting")
}
