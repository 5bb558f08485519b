package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/application/orchestrator"
	"github.com/aescanero/teamflow/internal/application/supervisor"
	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

// SupervisorService routes single inputs.
type SupervisorService interface {
	ProcessInput(ctx context.Context, input domain.Input, userID string) (*supervisor.State, error)
	GetResults(ctx context.Context, sessionID string) (*domain.Session, error)
}

// WorkflowService drives master workflows.
type WorkflowService interface {
	Start(ctx context.Context, userID string, trigger domain.Trigger) (*domain.MasterWorkflowState, error)
	Resume(ctx context.Context, masterSessionID string, eventData domain.Payload) (*domain.MasterWorkflowState, error)
	Get(ctx context.Context, masterSessionID string) (*domain.MasterWorkflowState, error)
	Rules() []orchestrator.TransitionRule
}

// TeamLister lists registered team handlers.
type TeamLister interface {
	Names() []string
}

// HealthChecker reports whether a component can accept work.
type HealthChecker interface {
	IsHealthy() bool
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	server     *http.Server
	supervisor SupervisorService
	workflows  WorkflowService
	teams      TeamLister
	eventBus   ports.EventBus
	health     HealthChecker
	logger     *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port       int
	Supervisor SupervisorService
	Workflows  WorkflowService
	Teams      TeamLister
	EventBus   ports.EventBus
	Health     HealthChecker
	// Metrics serves /metrics. Defaults to the global Prometheus registry.
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(corsMiddleware())
	router.Use(requestLogger(cfg.Logger))

	s := &Server{
		router:     router,
		supervisor: cfg.Supervisor,
		workflows:  cfg.Workflows,
		teams:      cfg.Teams,
		eventBus:   cfg.EventBus,
		health:     cfg.Health,
		logger:     cfg.Logger,
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	s.setupRoutes(metrics)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Supervisor
		v1.POST("/inputs", s.handleProcessInput)
		v1.GET("/sessions/:id", s.handleGetSession)

		// Master workflows
		v1.POST("/workflows", s.handleStartWorkflow)
		v1.GET("/workflows/:id", s.handleGetWorkflow)
		v1.POST("/workflows/:id/resume", s.handleResumeWorkflow)
		v1.POST("/triggers", s.handleEnqueueTrigger)
		v1.GET("/rules", s.handleListRules)

		// Teams
		v1.GET("/teams", s.handleListTeams)
	}
}

// SetupWebSocket adds the session stream handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleSessionStream(*gin.Context)
}) {
	s.router.GET("/api/v1/sessions/:id/ws", handler.HandleSessionStream)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
