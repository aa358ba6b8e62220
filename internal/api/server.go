// Package api provides the admin HTTP server: configuration reload and
// health probes. It listens on a separate address from the gateway so
// operational endpoints are never exposed to chat clients.
//
// Endpoints:
//
//	POST /api/reload?source=local|remote  reload behavior configuration
//	GET  /health                          liveness probe
//	GET  /ready                           readiness probe (pings the database)
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relai-dev/relai/internal/config"
	"github.com/relai-dev/relai/internal/log"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds request header reads (Slowloris).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Remote reloads can take a network round-trip.
	WriteTimeout = 60 * time.Second
)

// Server is the admin HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates an admin server with all routes registered.
func NewServer(store *config.Store, pool *pgxpool.Pool, logger log.Logger) *Server {
	logger = logger.With("component", "admin_api")
	mux := http.NewServeMux()

	NewReloadHandler(store, logger).RegisterRoutes(mux)
	NewHealthHandler(pool, logger).RegisterRoutes(mux)

	return &Server{mux: mux, logger: logger}
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, s.recoveryMiddleware, s.loggingMiddleware)
}

// Run starts the admin server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting admin server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down admin server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
