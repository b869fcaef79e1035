package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/config"
	"github.com/watzon/docwebhooks/internal/engine"
)

type Server struct {
	cfg        *config.Config
	engine     *engine.Engine
	version    string
	httpServer *http.Server
	router     *Router
}

type Option func(*Server)

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

func New(e *engine.Engine, opts ...Option) *Server {
	srv := &Server{
		cfg:     e.Config,
		engine:  e,
		version: "dev",
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         srv.cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  srv.cfg.Server.ReadTimeout,
		WriteTimeout: srv.cfg.Server.WriteTimeout,
		IdleTimeout:  srv.cfg.Server.IdleTimeout,
	}

	return srv
}

// Start starts the engine and serves until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.engine.Start(ctx); err != nil {
		ln.Close()
		return err
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Msg("Starting server")

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	s.engine.Stop()
	return err
}

// Shutdown stops accepting requests, waits for in-flight ones, then stops
// the engine so queued sends finish before the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")

	err := s.httpServer.Shutdown(ctx)
	s.engine.Stop()
	return err
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Engine() *engine.Engine {
	return s.engine
}
