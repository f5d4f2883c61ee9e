// Package bridgeserver implements the relay's accept loop, handshake, and
// per-role session loops (spec components C3, C5, C10): it terminates mTLS,
// upgrades to WebSocket, negotiates a Hello/HelloAck handshake, then runs
// one of three session loops depending on the negotiated role.
package bridgeserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikqnpi/miqbot/internal/applog"
	"github.com/mikqnpi/miqbot/internal/hub"
	"github.com/mikqnpi/miqbot/internal/obsmetrics"
	"github.com/mikqnpi/miqbot/internal/protocolwire"
	"github.com/mikqnpi/miqbot/internal/session"
)

const protocolVersion = 1

// Config carries the listener- and handshake-level settings the bridge
// server enforces, independent of the relay semantics owned by internal/hub.
type Config struct {
	ListenAddr        string
	HelloTimeoutMs    int64
	MaxWSMessageBytes int64
	SendTimeout       time.Duration
	ServerVersion     string
}

// Server owns the TLS+WebSocket listener and dispatches each accepted
// session to its role-specific loop.
type Server struct {
	cfg       Config
	hub       *hub.Hub
	tlsConfig *tls.Config
	echo      *echo.Echo
	upgrader  websocket.Upgrader
}

// New constructs a Server. Call Run to start serving.
func New(cfg Config, h *hub.Hub, tlsConfig *tls.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		cfg:       cfg,
		hub:       h,
		tlsConfig: tlsConfig,
		echo:      e,
		upgrader:  websocket.Upgrader{},
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance, for tests and for mounting the
// metrics/health admin surface alongside the WebSocket route.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo.GET("/readyz", func(c echo.Context) error {
		if !obsmetrics.IsReady() {
			return c.String(http.StatusServiceUnavailable, "not ready")
		}
		return c.String(http.StatusOK, "ready")
	})
}

// Run blocks, serving HTTPS+mTLS on cfg.ListenAddr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.echo,
		TLSConfig:         s.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			applog.L().Warn("bridge server shutdown", "error", err)
		}
	}()

	applog.L().Info("bridge server listening", "addr", s.cfg.ListenAddr)
	err := httpSrv.ListenAndServeTLS("", "")
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("bridgeserver: upgrade: %w", err)
	}

	sessionID := uuid.NewString()
	sess := session.New(conn, sessionID, s.cfg.SendTimeout, s.cfg.MaxWSMessageBytes)
	defer sess.Close()

	result, err := s.handshake(sess)
	if err != nil {
		applog.L().Warn("handshake failed", "session_id", sessionID, "error", err)
		obsmetrics.SessionsRejected.WithLabelValues("handshake_failed").Inc()
		return nil
	}
	state := result.state
	obsmetrics.SessionsAccepted.Inc()
	obsmetrics.ActiveSessions.WithLabelValues(roleLabel(state.Role)).Inc()
	defer obsmetrics.ActiveSessions.WithLabelValues(roleLabel(state.Role)).Dec()

	ctx := c.Request().Context()
	switch {
	case state.IsPrimaryGame:
		runPrimaryGameLoop(ctx, sess, state, s.hub, result.primaryOutbound)
	case state.Role == protocolwire.PeerRoleOrchestrator:
		runOrchestratorLoop(ctx, sess, state, s.hub, result.orchestratorSlot)
	default:
		runObserverLoop(ctx, sess, state, s.hub)
	}
	return nil
}

func roleLabel(role protocolwire.PeerRole) string {
	switch role {
	case protocolwire.PeerRoleGameClient:
		return "game_client"
	case protocolwire.PeerRoleOrchestrator:
		return "orchestrator"
	default:
		return "unspecified"
	}
}
