// Package gateway serves the per-session patch stream over HTTP. Each wire
// event is framed as {lsn, event}; a client resumes after a disconnect by
// presenting the last LSN it saw and receives every record after it. The log
// is in-memory only, so resume works across reconnects, not restarts.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"cadence/internal/infra/middleware"
	"cadence/internal/usecase"
)

// Header names of the stream protocol.
const (
	HeaderSessionID = "X-Session-Id"
	HeaderLastLSN   = "X-Last-LSN"
)

// Config configures the gateway listener.
type Config struct {
	Addr string `yaml:"addr"`
	// Tokens is the static bearer token allowlist. Empty disables auth.
	Tokens []TokenEntry `yaml:"tokens"`
}

// Server exposes the NDJSON stream, the WebSocket variant and a session
// status endpoint.
type Server struct {
	store     *usecase.SessionStore
	auth      Authenticator
	logger    *slog.Logger
	addr      string
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway over the given session store.
func NewServer(store *usecase.SessionStore, cfg Config, logger *slog.Logger) *Server {
	var auth Authenticator
	if len(cfg.Tokens) > 0 {
		auth = NewStaticTokenAuth(cfg.Tokens)
	}
	return &Server{
		store:  store,
		auth:   auth,
		logger: logger,
		addr:   cfg.Addr,
	}
}

// Handler returns the gateway's route mux, usable directly in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/stream", s.withAuth(s.handleStream))
	mux.HandleFunc("/v1/ws", s.withAuth(s.handleWebSocket))
	mux.HandleFunc("/v1/sessions", s.withAuth(s.handleSessions))
	return middleware.SecurityHeaders(mux)
}

// Start begins serving. Blocks until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.Handler()}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the bound listen address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.Authenticate(bearerToken(r)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
