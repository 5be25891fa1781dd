// Package server exposes the extraction service over HTTP (echo) and the
// daemon health over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/events"
	"github.com/joseph-ayodele/expense-extractor/internal/services/extraction"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Config holds HTTP server configuration.
type Config struct {
	Addr              string
	Heartbeat         time.Duration // SSE keep-alive interval
	HealthTimeout     time.Duration
	MaxRequestBodyLen string // echo BodyLimit syntax, e.g. "64M"
}

func (c *Config) withDefaults() *Config {
	out := Config{Addr: ":8081", Heartbeat: 15 * time.Second, HealthTimeout: 2 * time.Second, MaxRequestBodyLen: "64M"}
	if c == nil {
		return &out
	}
	if c.Addr != "" {
		out.Addr = c.Addr
	}
	if c.Heartbeat > 0 {
		out.Heartbeat = c.Heartbeat
	}
	if c.HealthTimeout > 0 {
		out.HealthTimeout = c.HealthTimeout
	}
	if c.MaxRequestBodyLen != "" {
		out.MaxRequestBodyLen = c.MaxRequestBodyLen
	}
	return &out
}

// Server provides the /extractor HTTP API.
type Server struct {
	echo   *echo.Echo
	svc    *extraction.Service
	stream *events.Broadcaster
	health HealthChecker
	logger *slog.Logger
	config *Config
}

// NewServer creates a new HTTP server. stream may be nil, in which case
// event requests asking for SSE get the persisted history only.
func NewServer(svc *extraction.Service, stream *events.Broadcaster, health HealthChecker, logger *slog.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("extraction service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.MaxRequestBodyLen))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpID := c.Response().Header().Get(echo.HeaderXRequestID)
			reqLogger := logger.With("http_id", httpID)
			c.SetRequest(c.Request().WithContext(common.WithLogger(c.Request().Context(), reqLogger)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			reqLogger.Info("http.request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	})

	s := &Server{
		echo:   e,
		svc:    svc,
		stream: stream,
		health: health,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := s.echo.Group("/extractor")
	g.POST("/requests", s.handleSubmit)
	g.GET("/requests/:id", s.handleStatus)
	g.GET("/requests/:id/events", s.handleEvents)
	g.GET("/requests/:id/draft", s.handleDraft)
	g.POST("/requests/:id/retry", s.handleRetry)
	g.GET("/requests/:id/evaluation.xlsx", s.handleExport)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http.start", "addr", s.config.Addr)
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http.shutdown")
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.health != nil {
		if err := s.health.HealthCheck(c.Request().Context(), s.config.HealthTimeout); err != nil {
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	var appErr *common.AppError
	msg := err.Error()
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	case errors.Is(err, common.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, msg)
	case errors.Is(err, common.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, msg)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
