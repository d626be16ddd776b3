package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/snarelabs/snare/internal/attacker"
	"github.com/snarelabs/snare/internal/gate"
	"github.com/snarelabs/snare/internal/logging"
	"github.com/snarelabs/snare/internal/metrics"
	"github.com/snarelabs/snare/internal/pagination"
	"github.com/snarelabs/snare/internal/telemetry"
	"github.com/snarelabs/snare/internal/traces"
	"github.com/snarelabs/snare/internal/validation"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// evaluateRequest is the body of POST /v1/evaluate: client-supplied telemetry
// plus the embedding proxy's view of the request.
type evaluateRequest struct {
	Telemetry telemetry.ClientTelemetry `json:"telemetry"`
	Request   telemetry.RequestContext  `json:"request"`
}

func (s *Server) evaluateHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// The embedding proxy may omit the source id; fall back to the caller's
	// address so a profile still accumulates somewhere.
	if req.Request.SourceID == "" {
		req.Request.SourceID = c.ClientIP()
	}
	if !validation.IsValidIdentifier(req.Request.SourceID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_source_id",
			"message": "sourceId must be 1-128 characters of [a-zA-Z0-9_.:-]",
		})
		return
	}
	if req.Request.Path == "" {
		req.Request.Path = "/"
	}
	if len(req.Telemetry.UserAgent) > validation.MaxUserAgentLength {
		req.Telemetry.UserAgent = req.Telemetry.UserAgent[:validation.MaxUserAgentLength]
	}

	ctx, span := traces.StartSpan(ctx, "gate.evaluate",
		traces.SourceID(req.Request.SourceID),
		traces.DecoyPath(req.Request.Path),
	)
	d := s.gate.Evaluate(ctx, req.Telemetry, req.Request)
	span.SetAttributes(
		traces.DecisionAction(string(d.Action)),
		traces.RiskScore(int(d.RiskScore)),
	)
	span.End()

	c.JSON(http.StatusOK, d)
}

// gatedHandler runs unmatched paths through the gate, so decoy resources are
// served end-to-end: the deceive decision turns into a delayed payload, a
// block turns into 403, everything else is the 404 it always was.
func (s *Server) gatedHandler(c *gin.Context) {
	ctx := c.Request.Context()

	headers := make(map[string]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	tel := telemetry.ClientTelemetry{UserAgent: c.Request.UserAgent()}
	req := telemetry.RequestContext{
		SourceID: c.ClientIP(),
		Path:     c.Request.URL.Path,
		Method:   c.Request.Method,
		Headers:  headers,
	}

	ctx, span := traces.StartSpan(ctx, "gate.evaluate",
		traces.SourceID(req.SourceID),
		traces.DecoyPath(req.Path),
	)
	d := s.gate.Evaluate(ctx, tel, req)
	span.SetAttributes(
		traces.DecisionAction(string(d.Action)),
		traces.RiskScore(int(d.RiskScore)),
	)
	span.End()

	switch d.Action {
	case gate.ActionDeceive:
		res, ok := s.registry.Lookup(d.DecoyKey)
		if !ok {
			// Table swapped between decision and serve; nothing to fake.
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		delay := time.Duration(d.DelayMs) * time.Millisecond
		metrics.DeceptionDelay.Observe(delay.Seconds())
		if err := s.responder.Serve(ctx, c.Writer, res, delay); err != nil {
			logging.L(ctx).Debug("decoy serve aborted",
				"source_id", req.SourceID, "path", req.Path, "error", err)
		}
		c.Abort()

	case gate.ActionBlock:
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "blocked",
			"message": "Request refused",
		})

	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	}
}

// -----------------------------------------------------------------------------
// Profiles
// -----------------------------------------------------------------------------

func (s *Server) listProfilesHandler(c *gin.Context) {
	ctx := c.Request.Context()

	limit := pageLimit(c)
	summaries, err := s.attackers.List(ctx, limit)
	if err != nil {
		logging.L(ctx).Error("list attacker profiles failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list profiles",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profiles": summaries,
		"count":    len(summaries),
	})
}

func (s *Server) getProfileHandler(c *gin.Context) {
	ctx := c.Request.Context()

	sourceID := c.Param("sourceId")
	if !validation.IsValidIdentifier(sourceID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_source_id",
			"message": "sourceId must be 1-128 characters of [a-zA-Z0-9_.:-]",
		})
		return
	}

	p, err := s.attackers.Get(ctx, sourceID)
	if err != nil {
		if errors.Is(err, attacker.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "profile_not_found",
				"message": "No attacker profile for this source",
			})
			return
		}
		logging.L(ctx).Error("get attacker profile failed", "source_id", sourceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load profile",
		})
		return
	}

	c.JSON(http.StatusOK, p)
}

func (s *Server) listAttemptsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	sourceID := c.Param("sourceId")
	if !validation.IsValidIdentifier(sourceID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_source_id",
			"message": "sourceId must be 1-128 characters of [a-zA-Z0-9_.:-]",
		})
		return
	}

	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}
	var before time.Time
	if cur != nil {
		before = cur.CreatedAt
	}

	limit := pageLimit(c)
	attempts, err := s.attackers.ListAttempts(ctx, sourceID, limit+1, before)
	if err != nil {
		if errors.Is(err, attacker.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "profile_not_found",
				"message": "No attacker profile for this source",
			})
			return
		}
		logging.L(ctx).Error("list attempts failed", "source_id", sourceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list attempts",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(attempts, limit,
		func(a attacker.AccessAttempt) (time.Time, string) {
			return a.Timestamp, a.ID
		})

	c.JSON(http.StatusOK, gin.H{
		"attempts":   page,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

func pageLimit(c *gin.Context) int {
	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit
}

// -----------------------------------------------------------------------------
// Operational
// -----------------------------------------------------------------------------

// listDecoysHandler returns the registered trap paths without their payloads.
func (s *Server) listDecoysHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"paths": s.registry.Paths(),
		"count": s.registry.Len(),
	})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "snare",
		"description": "Behavioral bot detection and deception engine",
		"version":     "0.1.0",
	})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}
	if _, err := s.mirror.Check(ctx, "healthcheck"); err != nil {
		checks["blacklist_mirror"] = "unhealthy"
	} else {
		checks["blacklist_mirror"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
