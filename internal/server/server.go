// Package server exposes the presence relay over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/christopherjohns/filepresence/internal/ratelimit"
	"github.com/christopherjohns/filepresence/internal/relay"
)

const (
	// shutdownTimeout bounds graceful HTTP shutdown.
	shutdownTimeout = 5 * time.Second

	// pruneInterval is how often stale rate limit entries are dropped.
	pruneInterval = time.Minute
)

// Server is the HTTP front of the presence relay.
type Server struct {
	addr    string
	mux     *http.ServeMux
	hub     *relay.Hub
	limiter *ratelimit.Limiter

	connOpts []relay.ConnManagerOption
}

// Option configures a Server.
type Option func(*Server)

// WithMaxConns limits concurrent WebSocket connections.
func WithMaxConns(n int) Option {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, relay.WithMaxConns(n))
	}
}

// WithIdleTimeout closes connections idle for longer than d.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, relay.WithIdleTimeout(d))
	}
}

// WithRateLimit allows at most n upgrade attempts per client IP per window.
func WithRateLimit(n int, window time.Duration) Option {
	return func(s *Server) {
		s.limiter = ratelimit.New(n, window)
	}
}

// New creates a Server listening on addr.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr: addr,
		mux:  http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = relay.NewHub(s.connOpts...)
	s.routes()
	return s
}

// Hub returns the relay hub.
func (s *Server) Hub() *relay.Hub {
	return s.hub
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then closes every peer and shuts the
// listener down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-errc:
			return err
		case <-ticker.C:
			if s.limiter != nil {
				s.limiter.Prune()
			}
		case <-ctx.Done():
			log.Printf("server: shutting down")
			s.hub.ConnMgr().Shutdown()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	}
}

func (s *Server) routes() {
	ws := relay.NewHandler(s.hub, s.limiter)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/users", s.handleListUsers)
	s.mux.HandleFunc("GET /api/connections", s.handleConnStats)
	s.mux.Handle("/ws", ws)
	// Clients configured with a bare ws://host:port connect to the root.
	s.mux.Handle("/{$}", ws)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.Roster())
}

func (s *Server) handleConnStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.ConnMgr().Stats())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to write response: %v", err)
	}
}
