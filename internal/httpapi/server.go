// Package httpapi implements the REST transport shell (C9): gin routes for
// the sync endpoint, status, and conflict inspection, layered with auth and
// rate-limit middleware.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adrianco/the-goodies-sub000/internal/auth"
	syncerrors "github.com/adrianco/the-goodies-sub000/internal/errors"
	"github.com/adrianco/the-goodies-sub000/internal/logging"
	"github.com/adrianco/the-goodies-sub000/pkg/conflict"
	"github.com/adrianco/the-goodies-sub000/pkg/syncproto"
	"github.com/adrianco/the-goodies-sub000/pkg/syncserver"
	"github.com/adrianco/the-goodies-sub000/pkg/syncstate"
)

// Server wraps a Handler (C6) behind an authenticated, rate-limited gin
// router.
type Server struct {
	handler     *syncserver.Handler
	state       *syncstate.Manager
	issuer      *auth.TokenIssuer
	rateLimiter *auth.RateLimiter
	allowGuest  bool
	metrics     *syncMetrics

	router *gin.Engine
	srv    *http.Server
}

// Config configures the transport shell.
type Config struct {
	Listen     string
	AllowGuest bool
}

func NewServer(cfg Config, h *syncserver.Handler, state *syncstate.Manager, issuer *auth.TokenIssuer, rl *auth.RateLimiter) *Server {
	s := &Server{handler: h, state: state, issuer: issuer, rateLimiter: rl, allowGuest: cfg.AllowGuest, metrics: newSyncMetrics()}
	s.setupRoutes()
	s.srv = &http.Server{Addr: cfg.Listen, Handler: s.router}
	return s
}

func (s *Server) setupRoutes() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.rateLimitMiddleware())

	s.router.GET("/metrics", s.handleMetrics) // unauthenticated scrape endpoint

	v1 := s.router.Group("/api/v1")
	v1.GET("/sync/status", s.handleStatus) // unauthenticated health probe, mirrors /health convention
	{
		authed := v1.Group("/sync")
		authed.Use(s.authMiddleware())
		authed.POST("/", s.handleSync)
		authed.GET("/conflicts", s.handleListConflicts)
		authed.POST("/conflicts/:id/resolve", s.handleResolveConflict)
	}
}

func (s *Server) handleMetrics(c *gin.Context) {
	s.metrics.refresh(s.state.MetricsSnapshot())
	promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

// ListenAndServe blocks serving HTTP until the process is terminated.
func (s *Server) ListenAndServe() error {
	logging.For("httpapi").Info().Str("listen", s.srv.Addr).Msg("starting sync server")
	return s.srv.ListenAndServe()
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		claims, err := s.issuer.Validate(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}
		if claims.Guest && !s.allowGuest {
			c.JSON(http.StatusForbidden, gin.H{"error": "guest access disabled"})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("device_id", claims.DeviceID)
		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// This middleware runs before authMiddleware, so the user tier is
		// keyed on the bearer token's user_id read here.
		uid := ""
		if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			if claims, err := s.issuer.Validate(parts[1]); err == nil {
				uid = claims.UserID
			}
		}

		result := s.rateLimiter.Allow(c.ClientIP(), uid)
		if !result.Allowed {
			c.Header("Retry-After", result.RetryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{"error": result.Reason})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleSync(c *gin.Context) {
	var req syncproto.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed sync request: " + err.Error()})
		return
	}

	resp, err := s.handler.HandleSync(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c *gin.Context) {
	deviceID := c.Query("device_id")
	c.JSON(http.StatusOK, gin.H{
		"device_id":        deviceID,
		"last_sync":        s.state.Metadata().LastSyncTime,
		"protocol_version": syncproto.ProtocolVersion,
	})
}

func (s *Server) handleListConflicts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conflicts": s.state.PendingManualConflicts()})
}

func (s *Server) handleResolveConflict(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Strategy string `json:"strategy"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed resolve request"})
		return
	}

	if err := s.state.ResolveManualConflict(id, conflict.Strategy(body.Strategy)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": id})
}

func writeError(c *gin.Context, err error) {
	if se, ok := err.(*syncerrors.SyncError); ok {
		c.JSON(se.HTTPStatus, gin.H{"error": se.Message, "kind": se.Kind})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
