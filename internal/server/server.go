// Package server wires together the engine, approvals, and graph store
// subsystems behind the operator HTTP surface (§6). New builds
// a Server, Run blocks until ctx is cancelled, done.
package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/demon-systems/demon/internal/approval"
	"github.com/demon-systems/demon/internal/eventlog"
	"github.com/demon-systems/demon/internal/graph"
	"github.com/demon-systems/demon/internal/ritual"
)

// Version info injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Config holds the operator HTTP surface's process-boundary settings.
type Config struct {
	ListenAddr string
	Tenant     string
}

// RitualRegistry resolves a named ritual to its workflow definition. The
// engine has no opinion on where definitions come from; the server supplies
// one at construction.
type RitualRegistry interface {
	Get(ritualID string) (ritual.Definition, bool)
}

// Server is the assembled operator HTTP surface.
type Server struct {
	cfg        Config
	logger     *zap.Logger
	log        eventlog.Log
	engine     *ritual.Engine
	approvals  *approval.Manager
	graphStore *graph.Store
	rituals    RitualRegistry
	httpServer *http.Server
}

// New builds a fully-wired Server.
func New(cfg Config, log eventlog.Log, engine *ritual.Engine, approvals *approval.Manager, graphStore *graph.Store, rituals RitualRegistry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:        cfg,
		logger:     logger.Named("server"),
		log:        log,
		engine:     engine,
		approvals:  approvals,
		graphStore: graphStore,
		rituals:    rituals,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting operator http surface",
		zap.String("addr", s.cfg.ListenAddr),
		zap.String("version", Version),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down operator http surface")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
