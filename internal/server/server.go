// Package server exposes Sources, Includes and their renders over HTTP
// and pushes record changes to websocket clients.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/conneroisu/excerpt/internal/cache"
	"github.com/conneroisu/excerpt/internal/config"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/repository"
	"github.com/conneroisu/excerpt/internal/tracker"
)

// Deps are the components the handlers call into.
type Deps struct {
	Repo    *repository.Repository
	Cache   *cache.Cache
	Writer  *cache.Writer
	Tracker *tracker.Tracker
	Logger  logging.Logger
}

// Server is the excerpt HTTP API.
type Server struct {
	config  config.ServerConfig
	repo    *repository.Repository
	cache   *cache.Cache
	writer  *cache.Writer
	tracker *tracker.Tracker
	hub     *Hub
	logger  logging.Logger
	handler http.Handler

	serverMutex sync.RWMutex // Protects httpServer
	httpServer  *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Server. Nothing listens until Start or Serve.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	logger := deps.Logger.WithComponent("server")
	s := &Server{
		config:  cfg,
		repo:    deps.Repo,
		cache:   deps.Cache,
		writer:  deps.Writer,
		tracker: deps.Tracker,
		hub:     NewHub(deps.Repo, cfg.AllowedOrigins, logger),
		logger:  logger,
	}
	s.handler = s.addMiddleware(s.routes())
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.hub.ServeHTTP)

	mux.HandleFunc("POST /api/includes/batch", s.handleBatch)
	mux.HandleFunc("GET /api/includes/{id}/render", s.handleRender)
	mux.HandleFunc("PUT /api/includes/{id}/settings", s.handleSettings)
	mux.HandleFunc("GET /api/includes/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/includes/{id}/diff", s.handleDiff)
	mux.HandleFunc("POST /api/includes/{id}/update", s.handleUpdate)

	mux.HandleFunc("GET /api/sources/{id}", s.handleGetSource)
	mux.HandleFunc("PUT /api/sources/{id}", s.handlePutSource)
	mux.HandleFunc("GET /api/orphans", s.handleOrphans)
	return mux
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the websocket event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return errors.NewTransportError("listening on "+s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until Shutdown. The event hub runs until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.hub.Start(ctx)

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Server listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.NewTransportError("serving http", err)
	}
	return nil
}

// Shutdown stops accepting requests, disconnects websocket clients and
// flushes pending settings writes. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")
		var result *multierror.Error

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			if err := server.Shutdown(ctx); err != nil {
				result = multierror.Append(result, err)
			}
		}

		s.hub.Close()

		if s.writer != nil {
			if err := s.writer.Close(ctx); err != nil {
				s.logger.Error(ctx, err, "Pending settings writes failed")
				result = multierror.Append(result, err)
			}
		}
		s.shutdownErr = result.ErrorOrNil()
	})
	return s.shutdownErr
}
