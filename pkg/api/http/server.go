package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/engine"
	"github.com/aescanero/dagflow/internal/application/orchestrator"
	"github.com/aescanero/dagflow/internal/application/workers"
)

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	engine       *engine.Engine
	orchestrator *orchestrator.Orchestrator
	health       *workers.HealthMonitor
	gatherer     prometheus.Gatherer
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Engine       *engine.Engine
	Orchestrator *orchestrator.Orchestrator
	// Health is optional; without it /health always reports healthy.
	Health *workers.HealthMonitor
	// Gatherer serves /metrics. Defaults to the Prometheus default gatherer.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:       router,
		engine:       cfg.Engine,
		orchestrator: cfg.Orchestrator,
		health:       cfg.Health,
		gatherer:     gatherer,
		logger:       cfg.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Executions
		v1.POST("/workflows", s.handleStartWorkflow)
		v1.GET("/workflows", s.handleListWorkflows)
		v1.GET("/workflows/:id", s.handleGetWorkflow)
		v1.POST("/workflows/:id/cancel", s.handleCancelWorkflow)
		v1.POST("/workflows/:id/resume", s.handleResumeWorkflow)

		// Definitions
		defs := v1.Group("/definitions")
		defs.POST("/analyze", s.handleAnalyze)
		defs.POST("/export", s.handleExport)
		defs.POST("/template", s.handleFromTemplate)
		defs.POST("/describe", s.handleFromDescription)
		defs.POST("/composite", s.handleComposite)
		defs.POST("/optimize", s.handleOptimize)

		v1.GET("/templates", s.handleListTemplates)

		// Actors
		v1.GET("/actors", s.handleListActors)
		v1.GET("/actors/:id/state", s.handleGetActorState)
		v1.GET("/actors/:id/history", s.handleGetActorHistory)

		v1.POST("/snapshots", s.handleCreateSnapshot)
	}
}

// SetupWebSocket adds the execution event stream to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleExecutionStream(*gin.Context)
}) {
	s.router.GET("/api/v1/workflows/:id/ws", handler.HandleExecutionStream)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
