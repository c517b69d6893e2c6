package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/navigable/smallworld/pkg/engine"
)

// Server exposes named engines over HTTP. Indexes are created and torn
// down at runtime; builds run asynchronously through the task manager,
// bounded by a shared semaphore.
type Server struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	engines map[string]*engine.Engine

	tasks      *TaskManager
	buildSlots *semaphore.Weighted

	httpServer *http.Server
}

// NewServer constructs a server from the given configuration, creating
// the data directory if needed.
func NewServer(cfg Config) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	s := &Server{
		cfg:        cfg,
		log:        slog.Default().With("component", "server"),
		engines:    make(map[string]*engine.Engine),
		tasks:      NewTaskManager(cfg.TaskRetention()),
		buildSlots: semaphore.NewWeighted(int64(cfg.MaxConcurrentBuilds)),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the full middleware-wrapped route tree. Exposed so
// tests can drive the server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	return RecoveryMiddleware(LoggingMiddleware(s.routes()))
}

// Run serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("listening", "addr", s.cfg.Addr(), "data_dir", s.cfg.DataDir)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes all engines.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, eng := range s.engines {
		if cerr := eng.Close(); cerr != nil {
			s.log.Warn("close engine on shutdown", "index", name, "error", cerr)
		}
		delete(s.engines, name)
	}
	return err
}

// getEngine looks up a registered index.
func (s *Server) getEngine(name string) (*engine.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eng, found := s.engines[name]
	return eng, found
}
