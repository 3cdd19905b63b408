// Package http provides the execd HTTP API: job submission, status,
// cancellation, durable event replay, and issue-fix workflow launch.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/config"
	"github.com/fyrsmithlabs/execd/internal/store"
	"github.com/fyrsmithlabs/execd/internal/workflow"
)

// Server exposes the execd API.
type Server struct {
	echo         *echo.Echo
	store        store.Store
	runner       Runner
	orchestrator Orchestrator
	defaults     config.ModelsConfig
	registry     *prometheus.Registry
	metrics      *Metrics
	logger       *zap.Logger
	config       config.ServerConfig

	// fixReservation guards concurrent issue-fix submissions: one workflow
	// at a time, released by the orchestrator when the pipeline ends.
	fixReservation *workflow.JobReservation
}

// NewServer creates the API server.
func NewServer(
	st store.Store,
	runner Runner,
	orchestrator Orchestrator,
	defaults config.ModelsConfig,
	logger *zap.Logger,
	cfg config.ServerConfig,
) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		echo:         e,
		store:        st,
		runner:       runner,
		orchestrator: orchestrator,
		defaults:     defaults,
		registry:     registry,
		metrics:      NewMetrics(registry),
		logger:       logger,
		config:       cfg,

		fixReservation: &workflow.JobReservation{},
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			s.metrics.requestDur.WithLabelValues(c.Request().Method, c.Path()).Observe(duration.Seconds())
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api/v1")
	api.POST("/jobs", s.submitJob)
	api.GET("/jobs/:id", s.getJob)
	api.POST("/jobs/:id/cancel", s.cancelJob)
	api.GET("/jobs/:id/events", s.listEvents)
	api.POST("/issues/fix", s.fixIssue)
}

// Start runs the server until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
