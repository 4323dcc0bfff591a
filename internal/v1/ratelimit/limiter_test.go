package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcade/arena/internal/v1/config"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitAPIGlobal:    "100-M",
		RateLimitAPIPublic:    "50-M",
		RateLimitAPIMatchmake: "2-M",
	}
}

func newRouter(rl *RateLimiter, mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ping", mw, func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	r.ServeHTTP(w, req)
	return w
}

func TestNewRateLimiter_InvalidRateString(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitAPIMatchmake = "not-a-rate"

	_, err := NewRateLimiter(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matchmake")
}

func TestMemoryStore_EnforcesLimit(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	r := newRouter(rl, rl.MatchmakeMiddleware())

	for i := 0; i < 2; i++ {
		w := get(r)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := get(r)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRedisStore_EnforcesLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rl, err := NewRateLimiter(testConfig(), client)
	require.NoError(t, err)

	r := newRouter(rl, rl.MatchmakeMiddleware())

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, get(r).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(r).Code)
}

func TestGlobalMiddleware_AllowsUnderLimit(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	r := newRouter(rl, rl.GlobalMiddleware())

	w := get(r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
}
