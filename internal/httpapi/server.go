// Package httpapi serves the latest reading and read-only database queries
// over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/ingest"
	"github.com/septivank/sml-meter-logger/internal/reading"
	"github.com/septivank/sml-meter-logger/internal/store"
)

const (
	gracefulShutdownTimeout = 10 * time.Second
	readHeaderTimeout       = 10 * time.Second
	idleTimeout             = 60 * time.Second
)

// LatestReading hands out the most recent reading once.
type LatestReading interface {
	Take() (reading.Reading, bool)
}

// Database runs read-only queries.
type Database interface {
	Query(ctx context.Context, statement string) (*store.QueryResult, error)
	Metrics(ctx context.Context) (store.Metrics, error)
}

// StatsSource reports ingestion statistics.
type StatsSource interface {
	Stats() ingest.Stats
}

// Deps are the collaborators of the server. Stats is optional.
type Deps struct {
	Addr     string
	Logger   *zap.Logger
	Latest   LatestReading
	Database Database
	Stats    StatsSource
}

// Server is the HTTP surface.
type Server struct {
	addr     string
	logger   *zap.Logger
	latest   LatestReading
	database Database
	stats    StatsSource
	server   *http.Server
	started  time.Time
}

// New validates deps and creates a server.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Latest == nil {
		return nil, fmt.Errorf("latest reading cache is required")
	}
	if deps.Database == nil {
		return nil, fmt.Errorf("database is required")
	}

	return &Server{
		addr:     deps.Addr,
		logger:   deps.Logger,
		latest:   deps.Latest,
		database: deps.Database,
		stats:    deps.Stats,
		started:  time.Now(),
	}, nil
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in the background. Binding errors
// are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		s.logger.Info("now listening for HTTP requests", zap.String("address", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Close shuts the server down gracefully.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
