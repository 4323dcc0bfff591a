// Package transport exposes matchmaking over HTTP. Clients resolve a seat
// reservation here first and then connect their game socket to the process
// named in the returned listing.
package transport

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/parcade/arena/internal/v1/config"
	"github.com/parcade/arena/internal/v1/driver"
	"github.com/parcade/arena/internal/v1/health"
	"github.com/parcade/arena/internal/v1/logging"
	"github.com/parcade/arena/internal/v1/matchmaker"
	"github.com/parcade/arena/internal/v1/metrics"
	"github.com/parcade/arena/internal/v1/middleware"
	"github.com/parcade/arena/internal/v1/ratelimit"
)

// Matchmaking methods accepted on the wire.
const (
	methodJoinOrCreate = "joinOrCreate"
	methodJoin         = "join"
	methodCreate       = "create"
	methodJoinByID     = "joinById"
)

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// Server routes matchmake HTTP requests into the MatchMaker core.
type Server struct {
	mm *matchmaker.MatchMaker
}

// NewServer creates the HTTP layer over a listening MatchMaker.
func NewServer(mm *matchmaker.MatchMaker) *Server {
	return &Server{mm: mm}
}

// Router assembles the gin engine: correlation ids, tracing, CORS, rate
// limits, the matchmake routes and the operational endpoints. limiter and
// healthHandler may be nil in tests.
func (s *Server) Router(cfg *config.Config, limiter *ratelimit.RateLimiter, healthHandler *health.Handler) *gin.Engine {
	if cfg != nil && !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())
	r.Use(otelgin.Middleware("arena"))

	corsConfig := cors.DefaultConfig()
	if cfg != nil && cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.HeaderXCorrelationID)
	r.Use(cors.New(corsConfig))

	if limiter != nil {
		r.Use(limiter.GlobalMiddleware())
	}

	mm := r.Group("/matchmake")
	if limiter != nil {
		mm.GET("/", limiter.PublicMiddleware(), s.handleListRooms)
		mm.GET("/:name", limiter.PublicMiddleware(), s.handleListRooms)
		mm.POST("/:method/:name", limiter.MatchmakeMiddleware(), s.handleMatchmake)
	} else {
		mm.GET("/", s.handleListRooms)
		mm.GET("/:name", s.handleListRooms)
		mm.POST("/:method/:name", s.handleMatchmake)
	}

	if healthHandler != nil {
		r.GET("/health/live", healthHandler.Liveness)
		r.GET("/health/ready", healthHandler.Readiness)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// handleMatchmake resolves POST /matchmake/:method/:name. For joinById the
// name segment carries the room id. The body is the client's option bag;
// an empty body means no options.
func (s *Server) handleMatchmake(c *gin.Context) {
	method := c.Param("method")
	name := c.Param("name")
	ctx := c.Request.Context()

	options := matchmaker.ClientOptions{}
	if err := c.ShouldBindJSON(&options); err != nil && !errors.Is(err, io.EOF) {
		writeMatchmakeError(c, method, matchmaker.NewError(matchmaker.CodeUnhandled, "invalid request body"))
		return
	}

	start := time.Now()
	var reservation *matchmaker.SeatReservation
	var err error
	switch method {
	case methodJoinOrCreate:
		reservation, err = s.mm.JoinOrCreate(ctx, name, options)
	case methodJoin:
		reservation, err = s.mm.Join(ctx, name, options)
	case methodCreate:
		reservation, err = s.mm.Create(ctx, name, options)
	case methodJoinByID:
		reservation, err = s.mm.JoinByID(ctx, name, options)
	default:
		err = matchmaker.NewError(matchmaker.CodeUnhandled, "invalid matchmaking method %q", method)
	}
	metrics.MatchmakeDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.MatchmakeRequests.WithLabelValues(method, "error").Inc()
		logging.Debug(ctx, "Matchmake request failed",
			zap.String("method", method), zap.String("name", name), zap.Error(err))
		writeMatchmakeError(c, method, err)
		return
	}

	metrics.MatchmakeRequests.WithLabelValues(method, "success").Inc()
	c.JSON(http.StatusOK, reservation)
}

// handleListRooms resolves GET /matchmake/ and GET /matchmake/:name with the
// public, unlocked rooms. The bare path (and the reserved word "matchmake")
// lists every room type.
func (s *Server) handleListRooms(c *gin.Context) {
	conditions := map[string]any{
		"private": false,
		"locked":  false,
	}
	if name := c.Param("name"); name != "" && name != "matchmake" {
		conditions["name"] = name
	}

	listings, err := s.mm.Query(c.Request.Context(), conditions)
	if err != nil {
		writeMatchmakeError(c, "list", err)
		return
	}
	if listings == nil {
		listings = []*driver.RoomListing{}
	}
	c.JSON(http.StatusOK, listings)
}

// writeMatchmakeError serializes the {code, error} shape game clients expect.
// Errors without a protocol code collapse to the generic unhandled code.
func writeMatchmakeError(c *gin.Context, method string, err error) {
	code := int(matchmaker.CodeUnhandled)
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		code = coded.ErrorCode()
	}

	status := http.StatusBadRequest
	if errors.Is(err, matchmaker.ErrShuttingDown) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, errorResponse{Code: code, Error: err.Error()})
}
