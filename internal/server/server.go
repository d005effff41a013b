package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mentra-Community/recorder-service/internal/config"
	"github.com/Mentra-Community/recorder-service/internal/metrics"
	"github.com/Mentra-Community/recorder-service/internal/realtime"
	"github.com/Mentra-Community/recorder-service/internal/recording"
	"github.com/Mentra-Community/recorder-service/internal/session"
)

const userContextKey = "userID"

// Server is the HTTP surface of the recorder: the recording CRUD API, the
// realtime event transports and the operational endpoints.
type Server struct {
	logger    *slog.Logger
	echo      *echo.Echo
	lifecycle *recording.Lifecycle
	hub       *realtime.Hub
	binder    *session.Binder
	metrics   *metrics.Metrics
	cfg       config.ServerConfig
}

// New builds the server and registers all routes. m may be nil.
func New(logger *slog.Logger, cfg config.ServerConfig, lc *recording.Lifecycle, hub *realtime.Hub, binder *session.Binder, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		logger:    logger,
		echo:      e,
		lifecycle: lc,
		hub:       hub,
		binder:    binder,
		metrics:   m,
		cfg:       cfg,
	}

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType, "X-User-Id"},
	}))
	e.Use(s.recordMetrics)

	e.GET("/health", s.handleHealth)
	e.GET("/stats", s.handleStats)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", s.requireUser)
	api.GET("/recordings", s.handleList)
	api.POST("/recordings", s.handleStart)
	api.GET("/recordings/:id", s.handleGet)
	api.POST("/recordings/:id/stop", s.handleStop)
	api.PATCH("/recordings/:id", s.handleRename)
	api.DELETE("/recordings/:id", s.handleDelete)
	api.GET("/recordings/:id/download", s.handleDownload)
	api.GET("/events", s.handleSSE)
	api.GET("/ws", s.handleWebSocket)
	api.GET("/device/ws", s.handleDeviceWS)

	return s
}

// ServeHTTP makes the server usable directly with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	addr := s.cfg.Address + ":" + strconv.Itoa(s.cfg.Port)
	s.logger.Info("http server listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requireUser extracts the caller identity from the X-User-Id header. The
// service sits behind the platform's authenticating proxy, which sets the
// header from the verified session.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Request().Header.Get("X-User-Id")
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: "missing X-User-Id header"})
		}
		c.Set(userContextKey, userID)
		return next(c)
	}
}

func (s *Server) recordMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.metrics == nil {
			return next(c)
		}
		start := time.Now()
		err := next(c)
		s.metrics.RecordHTTPRequest(
			c.Request().Method,
			c.Path(),
			strconv.Itoa(c.Response().Status),
			time.Since(start).Seconds(),
		)
		return err
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userContextKey).(string)
	return id
}

type errorBody struct {
	Error string `json:"error"`
}

// respondError maps lifecycle errors onto HTTP statuses.
func (s *Server) respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, recording.ErrAlreadyActive):
		return c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, recording.ErrSessionUnavailable):
		return c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, recording.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, recording.ErrForbidden):
		return c.JSON(http.StatusForbidden, errorBody{Error: err.Error()})
	}
	s.logger.Error("request failed",
		"method", c.Request().Method, "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"activeRecordings":  s.lifecycle.ActiveCount(),
		"connectedSessions": s.binder.Sessions(),
		"realtimeClients":   s.hub.ClientCount(),
	})
}
