// Package api is the HTTP surface named in spec.md §6: chat sessions,
// cron entries, agent status, call traces and system warnings. Every
// mutating or wait-for-outcome endpoint is a thin wrapper over the
// Agent Pool / Cron Scheduler / Session Store — no business logic
// lives here.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/agentloop/agentloop/pkg/agentpool"
	"github.com/agentloop/agentloop/pkg/config"
	"github.com/agentloop/agentloop/pkg/cron"
	"github.com/agentloop/agentloop/pkg/events"
	"github.com/agentloop/agentloop/pkg/llm"
	"github.com/agentloop/agentloop/pkg/session"
	"github.com/agentloop/agentloop/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg       *config.Config
	gw        *store.Gateway
	sessions  *session.Store
	pool      *agentpool.Pool
	scheduler *cron.Scheduler
	gateway   *llm.Gateway
	conns     *events.ConnectionManager
	adminToken string
}

// NewServer wires every dependency an HTTP request might need and
// registers routes. All constructor arguments are required; there is
// no optional/nil-checked dependency the way the queue/trace-only
// services used to be — this is a much smaller, single-process API.
func NewServer(
	cfg *config.Config,
	gw *store.Gateway,
	sessions *session.Store,
	pool *agentpool.Pool,
	scheduler *cron.Scheduler,
	gateway *llm.Gateway,
	conns *events.ConnectionManager,
	adminToken string,
) *Server {
	e := echo.New()

	s := &Server{
		echo:       e,
		cfg:        cfg,
		gw:         gw,
		sessions:   sessions,
		pool:       pool,
		scheduler:  scheduler,
		gateway:    gateway,
		conns:      conns,
		adminToken: adminToken,
	}

	s.setupRoutes()
	return s
}

// ValidateWiring reports a descriptive error if any dependency is nil.
// Call after NewServer and before Start, so wiring gaps are caught at
// startup instead of surfacing as panics under request load.
func (s *Server) ValidateWiring() error {
	var missing []string
	if s.cfg == nil {
		missing = append(missing, "config")
	}
	if s.gw == nil {
		missing = append(missing, "store gateway")
	}
	if s.sessions == nil {
		missing = append(missing, "session store")
	}
	if s.pool == nil {
		missing = append(missing, "agent pool")
	}
	if s.scheduler == nil {
		missing = append(missing, "cron scheduler")
	}
	if s.gateway == nil {
		missing = append(missing, "llm gateway")
	}
	if s.conns == nil {
		missing = append(missing, "connection manager")
	}
	if len(missing) > 0 {
		return fmt.Errorf("server wiring incomplete: missing %v", missing)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.Use(adminAuth(s.adminToken))

	v1.GET("/sessions", s.listSessionsHandler)
	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/messages", s.sendMessageHandler)
	v1.POST("/sessions/:id/cancel", s.cancelSessionHandler)
	v1.GET("/sessions/:id/export", s.exportSessionHandler)

	v1.GET("/sessions/:id/trace", s.getTraceListHandler)
	v1.GET("/sessions/:id/trace/llm/:usage_id", s.getTraceDetailHandler)

	v1.GET("/cron", s.listCronHandler)
	v1.PUT("/cron/:id", s.upsertCronHandler)
	v1.GET("/cron/:id", s.getCronHandler)
	v1.DELETE("/cron/:id", s.deleteCronHandler)
	v1.POST("/cron/:id/trigger", s.triggerCronHandler)
	v1.GET("/cron/:id/history", s.cronHistoryHandler)

	v1.GET("/agents", s.listAgentsHandler)
	v1.GET("/agents/:id", s.getAgentHandler)

	v1.GET("/system/warnings", s.systemWarningsHandler)

	v1.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	_, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	warnings := s.collectWarnings()
	status := "healthy"
	if len(warnings) > 0 {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, &HealthResponse{Status: status, Warnings: warnings})
}
