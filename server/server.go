// Package server hosts the HTTP front of the dispatcher on an Echo
// instance with a bounded listener and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/relaydesk/relaydesk/internal/profile"
	apiv1 "github.com/relaydesk/relaydesk/server/router/api/v1"
	"github.com/relaydesk/relaydesk/store"
)

const (
	// maxOpenConnections bounds concurrent client connections at the
	// listener so a webhook storm degrades into queueing, not memory
	// growth.
	maxOpenConnections = 1024

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer   *echo.Echo
	apiV1Service *apiv1.APIV1Service

	janitorCancel context.CancelFunc
}

func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Status >= http.StatusInternalServerError {
				slog.Error("request failed", "method", v.Method, "uri", v.URI, "status", v.Status)
			} else {
				slog.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			}
			return nil
		},
	}))

	server := &Server{
		Profile:    p,
		Store:      st,
		echoServer: e,
	}

	server.apiV1Service = apiv1.NewAPIV1Service(ctx, p, st)
	server.apiV1Service.RegisterRoutes(e)

	return server, nil
}

// Start binds the listener and serves until Shutdown. The unclaimed-ticket
// janitor runs alongside the listener.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", address)
	}
	s.echoServer.Listener = netutil.LimitListener(listener, maxOpenConnections)

	janitorCtx, cancel := context.WithCancel(ctx)
	s.janitorCancel = cancel
	go s.apiV1Service.Janitor.Run(janitorCtx)

	go func() {
		slog.Info("server started", "address", address)
		if err := s.echoServer.StartServer(&http.Server{
			ReadHeaderTimeout: readHeaderTimeout,
		}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if s.janitorCancel != nil {
		s.janitorCancel()
	}

	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server gracefully", "error", err)
	}

	if err := s.apiV1Service.SurfaceRouter.Close(); err != nil {
		slog.Error("failed to close surface channels", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}

	slog.Info("server shutdown complete")
}
