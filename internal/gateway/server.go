// Package gateway is the authenticated WebSocket front door. Handshakes
// carry an HMAC-signed timestamp in the query string; each accepted
// connection gets a fresh conversation id and a dedicated goroutine
// running the read loop.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/relai-dev/relai/internal/log"
	"github.com/relai-dev/relai/internal/pipeline"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds handshake header reads (Slowloris).
	ReadHeaderTimeout = 10 * time.Second

	handshakeTimeout = 10 * time.Second
)

// Pipeline answers chat requests.
type Pipeline interface {
	Handle(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
}

// Options configure a Server.
type Options struct {
	MaxMessageBytes int64
	AcceptPerSecond int
	AcceptBurst     int
}

// Server accepts and serves WebSocket connections.
type Server struct {
	auth     *Authenticator
	pipe     Pipeline
	upgrader websocket.Upgrader
	limiter  *rate.Limiter
	opts     Options
	logger   log.Logger

	wg sync.WaitGroup
}

// NewServer creates a gateway Server.
func NewServer(auth *Authenticator, pipe Pipeline, opts Options, logger log.Logger) *Server {
	if opts.MaxMessageBytes < 1 {
		opts.MaxMessageBytes = 1 << 20
	}
	if opts.AcceptPerSecond < 1 {
		opts.AcceptPerSecond = 10
	}
	if opts.AcceptBurst < 1 {
		opts.AcceptBurst = opts.AcceptPerSecond
	}
	return &Server{
		auth: auth,
		pipe: pipe,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		limiter: rate.NewLimiter(rate.Limit(opts.AcceptPerSecond), opts.AcceptBurst),
		opts:    opts,
		logger:  logger.With("component", "gateway"),
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint. The
// base context bounds every connection spawned from it.
func (s *Server) Handler(base context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.serveWS(base, w, r)
	})
	return mux
}

// serveWS authenticates and upgrades one handshake. Rejections happen
// before the upgrade; no message is ever processed on a rejected
// connection.
func (s *Server) serveWS(base context.Context, w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	q := r.URL.Query()
	if err := s.auth.Verify(q.Get("ts"), q.Get("sig")); err != nil {
		s.logger.Warn("handshake rejected", "remote", r.RemoteAddr, "reason", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conversation := uuid.New()
	s.logger.Info("connection accepted", "remote", r.RemoteAddr, "conversation", conversation)

	c := &conn{
		ws:           ws,
		conversation: conversation,
		pipe:         s.pipe,
		logger:       s.logger,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.run(base, s.opts.MaxMessageBytes)
		s.logger.Info("connection closed", "conversation", conversation)
	}()
}

// Run starts the gateway listener and blocks until the context is
// canceled, then shuts down gracefully and waits for connection
// goroutines to drain.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket gateway", "addr", addr, "auth", s.auth.Enabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down websocket gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.wg.Wait()
		return err
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
