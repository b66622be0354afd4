package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/middleware"
	"github.com/varfish-case-importer/internal/service"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server represents the HTTP server
type Server struct {
	cfg     domain.ServerConfig
	actions *service.ActionService
	jobs    *service.JobService
	checks  map[string]Pinger
	log     *logrus.Logger

	logPoll time.Duration
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates a new HTTP server instance. checks are run by the health
// endpoint, keyed by component name.
func NewServer(cfg domain.ServerConfig, actions *service.ActionService, jobs *service.JobService,
	checks map[string]Pinger, logger *logrus.Logger) *Server {
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger(logger))
	router.Use(corsMiddleware())
	if cfg.WriteTimeout > 0 {
		router.Use(middleware.RequestTimeout(cfg.WriteTimeout, "/log/ws"))
	}

	s := &Server{
		cfg:     cfg,
		actions: actions,
		jobs:    jobs,
		checks:  checks,
		log:     logger,
		logPoll: time.Second,
		router:  router,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving HTTP: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/projects/:project/caseimportactions", s.handleCreateAction)
		v1.GET("/caseimportactions/:uuid", s.handleGetAction)
		v1.PATCH("/caseimportactions/:uuid", s.handleUpdateAction)
		v1.DELETE("/caseimportactions/:uuid", s.handleDeleteAction)
		v1.GET("/caseimportactions/:uuid/warnings", s.handleActionWarnings)
		v1.GET("/caseimportactions/:uuid/jobs", s.handleActionJobs)

		v1.GET("/jobs/:uuid", s.handleGetJob)
		v1.POST("/jobs/:uuid/cancel", s.handleCancelJob)
		v1.GET("/jobs/:uuid/log", s.handleJobLog)
		v1.GET("/jobs/:uuid/log/ws", s.handleJobLogStream)

		v1.POST("/cases/:uuid/seqvarsqueries", s.handleSubmitQuery)
	}
}

// handleHealth pings every backing service
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	components := gin.H{}
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			components[name] = gin.H{"status": "unhealthy", "error": err.Error()}
			continue
		}
		components[name] = gin.H{"status": "healthy"}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Correlation-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
