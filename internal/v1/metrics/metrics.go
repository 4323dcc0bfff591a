package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the matchmaking service.
//
// Naming convention: namespace_subsystem_name
// - namespace: arena (application-level grouping)
// - subsystem: matchmaker, room, presence, http (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (rooms hosted, reservations held)
// - Counter: Cumulative events (matchmake requests, IPC timeouts)
// - Histogram: Latency distributions (operation duration)

var (
	// RoomsHosted tracks the number of rooms currently owned by this process (Gauge - current state)
	RoomsHosted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arena",
		Subsystem: "room",
		Name:      "hosted_total",
		Help:      "Number of rooms currently hosted by this process",
	})

	// SeatReservations tracks reserved seats that have not been consumed yet (GaugeVec keyed by room type)
	SeatReservations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arena",
		Subsystem: "room",
		Name:      "seat_reservations",
		Help:      "Seat reservations currently held, by room type",
	}, []string{"room_name"})

	// MatchmakeRequests counts matchmaking operations by method and outcome (CounterVec - cumulative)
	MatchmakeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "matchmaker",
		Name:      "requests_total",
		Help:      "Total matchmaking operations processed",
	}, []string{"method", "status"})

	// MatchmakeDuration tracks the time spent on matchmaking operations (HistogramVec - latency distribution)
	MatchmakeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arena",
		Subsystem: "matchmaker",
		Name:      "request_seconds",
		Help:      "Time spent resolving matchmaking operations",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method"})

	// IPCTimeouts counts remote room calls that exceeded their deadline (CounterVec - cumulative)
	IPCTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "matchmaker",
		Name:      "ipc_timeouts_total",
		Help:      "Remote room calls that timed out",
	}, []string{"method"})

	// CircuitBreakerState reports the presence backend breaker state (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arena",
		Subsystem: "presence",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	// CircuitBreakerFailures counts operations rejected by an open breaker (CounterVec - cumulative)
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "presence",
		Name:      "circuit_breaker_failures_total",
		Help:      "Operations rejected while the circuit breaker was open",
	}, []string{"backend"})

	// RateLimitRequests counts requests that passed the rate limiter (CounterVec - cumulative)
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "http",
		Name:      "rate_limit_requests_total",
		Help:      "Requests checked against the rate limiter",
	}, []string{"path"})

	// RateLimitExceeded counts requests rejected by the rate limiter (CounterVec - cumulative)
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"path", "limit_type"})
)
