package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parcade/arena/internal/v1/logging"
)

// Pinger is the slice of the presence contract health checks need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints
type Handler struct {
	presence Pinger
}

// NewHandler creates a health check handler. A nil presence means
// single-instance mode with no external dependency to check.
func NewHandler(presence Pinger) *Handler {
	return &Handler{presence: presence}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if the presence backend is reachable, 503 otherwise. A
// process that cannot reach presence cannot place clients or answer IPC.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"presence": h.checkPresence(ctx),
	}

	status := "ready"
	statusCode := http.StatusOK
	if checks["presence"] != "healthy" {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkPresence(ctx context.Context) string {
	if h.presence == nil {
		// Single-instance mode has no backend to be down.
		return "healthy"
	}
	if err := h.presence.Ping(ctx); err != nil {
		logging.Error(ctx, "Presence health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
