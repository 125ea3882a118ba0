// Package api is the shared application server: one HTTP listener serving
// the tracker webhook endpoint and the OAuth callback. Heavy work never
// happens on the request path; webhook payloads are verified, parsed, and
// handed to the orchestrator's queue within the soft deadline.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceedaragents/cyrus/pkg/tracker"
	"github.com/ceedaragents/cyrus/pkg/tunnel"
)

// EventSink receives parsed webhook events for asynchronous processing.
// Enqueue must not block: the webhook handler has a 2-second soft deadline.
type EventSink interface {
	EnqueueWebhook(event *tracker.Event) error
}

// Config holds the server's listen and tunnel settings.
type Config struct {
	Port          int
	HostExternal  bool
	WebhookSecret string

	// Tunnel is consulted when HostExternal is false. May be nil.
	Tunnel tunnel.Opener
}

// Server is the shared application server.
type Server struct {
	cfg    Config
	sink   EventSink
	oauth  *oauthFlows
	engine *gin.Engine

	httpSrv      *http.Server
	tunnelCloser io.Closer
	publicURL    string
}

// NewServer creates the server. The sink receives webhook bodies that
// passed signature verification.
func NewServer(cfg Config, sink EventSink) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		sink:   sink,
		oauth:  newOAuthFlows(),
		engine: engine,
	}
	engine.POST("/webhook", s.handleWebhook)
	engine.GET("/callback", s.handleOAuthCallback)
	return s
}

// Start binds the listener and, when the host is not externally reachable,
// opens the tunnel and adopts its public URL. A bind failure is fatal to
// the process; the caller exits.
func (s *Server) Start(ctx context.Context) error {
	host := "127.0.0.1"
	if s.cfg.HostExternal {
		host = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", host, s.cfg.Port)

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	if !s.cfg.HostExternal && s.cfg.Tunnel != nil {
		tunnelCtx, cancel := context.WithTimeout(ctx, tunnel.ReadyTimeout)
		defer cancel()
		publicURL, closer, err := s.cfg.Tunnel.Open(tunnelCtx, addr)
		if err != nil {
			return fmt.Errorf("failed to open tunnel: %w", err)
		}
		s.tunnelCloser = closer
		s.publicURL = publicURL
		slog.Info("Tunnel established", "public_url", publicURL)
	}

	slog.Info("HTTP server listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes the tunnel first, then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.tunnelCloser != nil {
		if err := s.tunnelCloser.Close(); err != nil {
			slog.Warn("Tunnel close error", "error", err)
		}
		s.tunnelCloser = nil
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// PublicURL returns the adopted webhook base URL: the tunnel URL when one
// is open, empty otherwise (the caller falls back to configuration).
func (s *Server) PublicURL() string {
	return s.publicURL
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// shutdownTimeout is the drain budget applied by callers.
const shutdownTimeout = 5 * time.Second

// ShutdownTimeout returns the recommended drain budget.
func ShutdownTimeout() time.Duration { return shutdownTimeout }
