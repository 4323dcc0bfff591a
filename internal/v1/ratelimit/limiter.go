// Package ratelimit implements rate limiting logic using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/parcade/arena/internal/v1/config"
	"github.com/parcade/arena/internal/v1/logging"
	"github.com/parcade/arena/internal/v1/metrics"
)

// RateLimiter holds the per-concern limiter instances. All limits are keyed
// by client IP: matchmaking happens before any session exists, so there is no
// user identity to key on yet.
type RateLimiter struct {
	global    *limiter.Limiter
	public    *limiter.Limiter
	matchmake *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter creates a RateLimiter from the configured rate strings. With
// a Redis client the limits are enforced cluster-wide; without one (single
// instance mode) they fall back to process-local memory.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	globalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}
	publicRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid API public rate: %w", err)
	}
	matchmakeRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIMatchmake)
	if err != nil {
		return nil, fmt.Errorf("invalid API matchmake rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		global:    limiter.New(store, globalRate),
		public:    limiter.New(store, publicRate),
		matchmake: limiter.New(store, matchmakeRate),
		store:     store,
	}, nil
}

// GlobalMiddleware enforces the baseline per-IP limit on every route.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return rl.middleware(rl.global, "ip")
}

// PublicMiddleware enforces the tighter limit for unauthenticated read
// endpoints (room listing).
func (rl *RateLimiter) PublicMiddleware() gin.HandlerFunc {
	return rl.middleware(rl.public, "public")
}

// MatchmakeMiddleware enforces the matchmaking operation limit. Placement is
// the expensive path (driver queries, IPC round trips), so it gets its own
// budget below the global one.
func (rl *RateLimiter) MatchmakeMiddleware() gin.HandlerFunc {
	return rl.middleware(rl.matchmake, "matchmake")
}

func (rl *RateLimiter) middleware(instance *limiter.Limiter, limitType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := instance.Get(ctx, c.ClientIP())
		if err != nil {
			// Fail open: availability over strict enforcement when the
			// store is down.
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}
