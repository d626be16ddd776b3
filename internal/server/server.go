// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/snarelabs/snare/internal/alerts"
	"github.com/snarelabs/snare/internal/allowlist"
	"github.com/snarelabs/snare/internal/attacker"
	"github.com/snarelabs/snare/internal/behavior"
	"github.com/snarelabs/snare/internal/blocklist"
	"github.com/snarelabs/snare/internal/config"
	"github.com/snarelabs/snare/internal/decoy"
	"github.com/snarelabs/snare/internal/gate"
	"github.com/snarelabs/snare/internal/logging"
	"github.com/snarelabs/snare/internal/metrics"
	"github.com/snarelabs/snare/internal/profiles"
	"github.com/snarelabs/snare/internal/ratelimit"
	"github.com/snarelabs/snare/internal/realtime"
	"github.com/snarelabs/snare/internal/security"
	"github.com/snarelabs/snare/internal/toolkit"
	"github.com/snarelabs/snare/internal/ua"
	"github.com/snarelabs/snare/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	gate          *gate.Gate
	attackers     attacker.Store
	clients       *profiles.Store
	matcher       *toolkit.Matcher
	registry      *decoy.Registry
	responder     *decoy.Responder
	decoyLoader   *decoy.Loader
	toolkitLoader *toolkit.Loader
	mirror        blocklist.Mirror
	webhook       *alerts.Webhook
	realtimeHub   *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAttackerStore sets a custom attacker store (for testing)
func WithAttackerStore(store attacker.Store) Option {
	return func(s *Server) {
		s.attackers = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set store/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Toolkit signature table: built-in defaults plus optional file override.
	s.matcher = toolkit.NewMatcher(toolkit.DefaultTable())
	if cfg.ToolkitTablePath != "" {
		s.toolkitLoader = toolkit.NewLoader(cfg.ToolkitTablePath, s.matcher)
		if err := s.toolkitLoader.Load(); err != nil {
			return nil, fmt.Errorf("load toolkit table: %w", err)
		}
	}
	scorer := attacker.NewScorer(s.matcher)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.attackers == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			// Configure connection pool
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			// Test connection
			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			s.attackers = attacker.NewPostgresStore(db, scorer)
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.attackers = attacker.NewMemoryStore(scorer)
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	// Shared blacklist mirror (cross-instance, optional)
	s.mirror = blocklist.Noop{}
	if cfg.RedisURL != "" {
		mirror, err := blocklist.NewRedisMirror(context.Background(), cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect blacklist mirror: %w", err)
		}
		s.mirror = mirror
		s.logger.Info("shared blacklist mirror enabled")
	}

	// Decoy resources: embedded defaults plus optional file override.
	s.registry = decoy.NewRegistry()
	if cfg.DecoyTablePath != "" {
		s.decoyLoader = decoy.NewLoader(cfg.DecoyTablePath, s.registry)
		if err := s.decoyLoader.Load(); err != nil {
			return nil, fmt.Errorf("load decoy table: %w", err)
		}
	}
	s.responder = decoy.NewResponder(cfg.DecoyMinDelay, cfg.DecoyMaxDelay)
	s.logger.Info("decoy registry loaded", "resources", s.registry.Len())

	// Client behavior profiles
	s.clients = profiles.NewStore(profiles.Config{
		SamplesPerChannel: cfg.ProfileSamplesPerChannel,
		IdleTimeout:       cfg.ProfileIdleTimeout,
		MaxEntries:        cfg.ProfileMaxEntries,
	})

	// Trusted sources
	allowed, err := allowlist.New(cfg.Allowlist)
	if err != nil {
		return nil, fmt.Errorf("parse allowlist: %w", err)
	}
	if allowed.Len() > 0 {
		s.logger.Info("allowlist loaded", "entries", allowed.Len())
	}

	// Escalation alerting (optional)
	if cfg.AlertWebhookURL != "" {
		s.webhook, err = alerts.NewWebhook(cfg.AlertWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("configure alert webhook: %w", err)
		}
		s.logger.Info("escalation alerts enabled")
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	policy := gate.FlagOnlyPolicy
	if cfg.EscalationPolicy == "block" {
		policy = gate.BlockPolicy
	}

	s.gate = gate.New(gate.Config{
		UAClassifier: ua.NewClassifier(ua.DefaultSignatures()),
		Behavior:     behavior.NewClassifier(),
		Toolkits:     s.matcher,
		Attackers:    s.attackers,
		Clients:      s.clients,
		Registry:     s.registry,
		Responder:    s.responder,
		Allowlist:    allowed,
		Mirror:       s.mirror,
		Policy:       policy,
		Events: &gateEvents{
			hub:     s.realtimeHub,
			webhook: s.webhook,
		},
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	{
		v1.POST("/evaluate", s.evaluateHandler)
		v1.GET("/profiles", s.listProfilesHandler)
		v1.GET("/profiles/:sourceId", s.getProfileHandler)
		v1.GET("/profiles/:sourceId/attempts", s.listAttemptsHandler)
		v1.GET("/decoys", s.listDecoysHandler)
		v1.GET("/realtime/stats", s.realtimeStatsHandler)
	}

	// Everything else runs through the gate: decoy paths are not registered
	// as routes because the table is hot-reloadable, and a registered decoy
	// route would also advertise itself in route listings.
	s.router.NoRoute(s.gatedHandler)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"decoys", s.registry.Len(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start client profile eviction sweep
	go s.clients.Start(runCtx)

	// Watch detection tables for live edits
	if s.cfg.WatchTables {
		if s.decoyLoader != nil {
			if err := s.decoyLoader.Watch(runCtx); err != nil {
				s.logger.Warn("decoy table watch disabled", "error", err)
			}
		}
		if s.toolkitLoader != nil {
			if err := s.toolkitLoader.Watch(runCtx); err != nil {
				s.logger.Warn("toolkit table watch disabled", "error", err)
			}
		}
	}

	// Sample DB pool stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Sample the tracked-profile count
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				metrics.TrackedClientProfiles.Set(float64(s.clients.Len()))
			}
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeps, watchers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close the blacklist mirror connection
	if err := s.mirror.Close(); err != nil {
		s.logger.Error("blacklist mirror close error", "error", err)
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
