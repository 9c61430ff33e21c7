package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/council/internal/application/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deliberator is the part of the orchestrator the API drives
type Deliberator interface {
	Submit(ctx context.Context, prompt string) error
	Reset()
	Snapshot() orchestrator.Snapshot
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	server      *http.Server
	deliberator Deliberator
	logger      *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port        int
	Deliberator Deliberator
	// Gatherer serves /metrics; nil uses the default registry
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
	router.Use(compressionMiddleware())

	s := &Server{
		router:      router,
		deliberator: cfg.Deliberator,
		logger:      cfg.Logger,
	}

	s.setupRoutes(cfg.Gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	metrics := promhttp.Handler()
	if gatherer != nil {
		metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/deliberation", s.handleGetSnapshot)
		v1.POST("/deliberation", s.handleSubmit)
		v1.POST("/deliberation/reset", s.handleReset)
	}
}

// SetupWebSocket adds the snapshot stream handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleDeliberationStream(*gin.Context)
}) {
	s.router.GET(streamPath, handler.HandleDeliberationStream)
}

// Handler returns the router, for tests and embedding
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
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
