package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// ServerConfig configures the admin HTTP server
type ServerConfig struct {
	BindAddress    string
	Port           int
	Handlers       *AdminHandlers
	MetricsHandler http.Handler // optional
}

// Server serves the admin API, /metrics and pprof on one port
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the mux. Nothing listens until Start.
func NewServer(config ServerConfig) *Server {
	httpMux := http.NewServeMux()

	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if config.MetricsHandler != nil {
		httpMux.Handle("/metrics", config.MetricsHandler)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}
	if config.Handlers != nil {
		RegisterRoutes(httpMux, config.Handlers)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", config.BindAddress, config.Port),
			Handler:           httpMux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the mux, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin HTTP server failed")
		}
	}()

	log.Info().Str("address", listener.Addr().String()).Msg("Admin HTTP server listening")
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Admin HTTP server shutdown failed")
	}
}
