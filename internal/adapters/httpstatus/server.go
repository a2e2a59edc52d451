package httpstatus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/application"
	"github.com/bnema/rotor/internal/domain"
)

const shutdownTimeout = 5 * time.Second

// StatusSource is anything that can produce a fleet status snapshot.
type StatusSource interface {
	Status() application.FleetStatus
}

// Server is the read-only status surface. It exposes no mutating routes.
type Server struct {
	echo   *echo.Echo
	source StatusSource
	logger *zap.Logger
}

func NewServer(source StatusSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("status")

	s := &Server{echo: echo.New(), source: source, logger: logger}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
		if code >= http.StatusInternalServerError {
			logger.Warn("request failed", zap.Int("status", code), zap.String("path", c.Path()), zap.Error(err))
		}
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]string{"error": http.StatusText(code)})
		}
	}

	e.GET("/status", s.handleStatus)
	e.GET("/status/sessions", s.handleSessions)
	e.GET("/status/pools", s.handlePools)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve accepts on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	s.logger.Info("status surface listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start("") }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve status: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.source.Status())
}

func (s *Server) handleSessions(c echo.Context) error {
	status := s.source.Status()
	sessions := status.Sessions
	if state := c.QueryParam("state"); state != "" {
		if _, err := domain.ParseSessionState(state); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filtered := make([]application.SessionStatus, 0, len(sessions))
		for _, session := range sessions {
			if session.State == state {
				filtered = append(filtered, session)
			}
		}
		sessions = filtered
	}
	if sessions == nil {
		sessions = []application.SessionStatus{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) handlePools(c echo.Context) error {
	pools := s.source.Status().Pools
	if raw := c.QueryParam("kind"); raw != "" {
		kind, err := domain.ParseResourceKind(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		for _, pool := range pools {
			if pool.Kind == kind {
				return c.JSON(http.StatusOK, pool)
			}
		}
		return echo.NewHTTPError(http.StatusNotFound, "pool not found")
	}
	return c.JSON(http.StatusOK, pools)
}

type healthResponse struct {
	Status         string `json:"status"`
	Active         int    `json:"active"`
	Target         int    `json:"target"`
	SuspicionLevel int    `json:"suspicion_level"`
}

// handleHealth reports unhealthy when a fleet with a target has no active session.
func (s *Server) handleHealth(c echo.Context) error {
	status := s.source.Status()
	resp := healthResponse{
		Status:         "ok",
		Active:         status.SessionsByState[domain.SessionActive.String()],
		Target:         status.TargetSessions,
		SuspicionLevel: status.SuspicionLevel,
	}
	if resp.Target > 0 && resp.Active == 0 {
		resp.Status = "no active sessions"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
