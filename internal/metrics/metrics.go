// Package metrics provides Prometheus instrumentation for the snare engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snare",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "snare",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts gate decisions by action.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snare",
			Name:      "decisions_total",
			Help:      "Total gate decisions by action (allow, deceive, block).",
		},
		[]string{"action"},
	)

	// DecoyHitsTotal counts decoy accesses by trap class.
	DecoyHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snare",
			Name:      "decoy_hits_total",
			Help:      "Total decoy resource accesses by trap class.",
		},
		[]string{"trap"},
	)

	// BlacklistedSources tracks sources currently blacklisted.
	BlacklistedSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "snare",
			Name:      "blacklisted_sources",
			Help:      "Number of sources currently blacklisted.",
		},
	)

	// RiskScore observes recomputed risk scores.
	RiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "snare",
		Name:      "risk_score",
		Help:      "Distribution of recomputed attacker risk scores.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// DeceptionDelay observes the artificial delay applied to decoy responses.
	DeceptionDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "snare",
		Name:      "deception_delay_seconds",
		Help:      "Artificial delay applied to decoy responses in seconds.",
		Buckets:   []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 5},
	})

	// TelemetrySamplesDropped counts malformed telemetry samples discarded
	// during sanitization.
	TelemetrySamplesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "snare",
		Name:      "telemetry_samples_dropped_total",
		Help:      "Total malformed telemetry samples dropped during sanitization.",
	})

	// EvaluationsDegradedTotal counts evaluations that fell back to the
	// degraded allow decision.
	EvaluationsDegradedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "snare",
		Name:      "evaluations_degraded_total",
		Help:      "Total evaluations that degraded to a fail-open allow.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "snare",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// TrackedClientProfiles tracks behavioral profiles currently in memory.
	TrackedClientProfiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "snare",
			Name:      "tracked_client_profiles",
			Help:      "Number of client behavior profiles currently tracked.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snare", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snare", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snare", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snare", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snare", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "snare", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		DecoyHitsTotal,
		BlacklistedSources,
		RiskScore,
		DeceptionDelay,
		TelemetrySamplesDropped,
		EvaluationsDegradedTotal,
		ActiveWebSocketClients,
		TrackedClientProfiles,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
