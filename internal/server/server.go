// Package server exposes the sync coordinator over HTTP.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/sync/errgroup"

	"aperture/internal/aperture"
	"aperture/internal/config"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	defaultIdleTimeout     = 2 * time.Minute
)

// Server routes device requests to a SyncCoordinator.
type Server struct {
	coordinator *aperture.SyncCoordinator
	cfg         config.ServerConfig
	mux         *http.ServeMux
	metrics     *Metrics
	logger      aperture.Logger

	upgrader     websocket.Upgrader
	pingInterval time.Duration

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a Server. Metrics are collected when cfg.Metrics is set.
func New(coordinator *aperture.SyncCoordinator, cfg config.ServerConfig, logger aperture.Logger) *Server {
	s := &Server{
		coordinator: coordinator,
		cfg:         cfg,
		mux:         http.NewServeMux(),
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Devices are native clients, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: 30 * time.Second,
		closing:      make(chan struct{}),
	}
	if cfg.Metrics {
		s.metrics = NewMetrics()
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.Handle("POST /sync/connect", s.instrument("pair", http.HandlerFunc(s.handleConnect)))

	snapshot := s.instrument("snapshot", s.compress(http.HandlerFunc(s.handleSnapshot)))
	s.mux.Handle("GET /sync/snapshot", snapshot)
	s.mux.Handle("POST /sync/snapshot", snapshot)

	device := s.instrument("device", s.compress(http.HandlerFunc(s.handleDevice)))
	s.mux.Handle("GET /sync/device", device)
	s.mux.Handle("POST /sync/device", device)

	s.mux.Handle("GET /sync/watch", s.instrument("watch", http.HandlerFunc(s.handleWatch)))

	s.mux.Handle("POST /push/file", s.instrument("push", http.HandlerFunc(s.handlePush)))

	pull := s.instrument("pull", s.compress(http.HandlerFunc(s.handlePull)))
	s.mux.Handle("GET /pull/file", pull)
	s.mux.Handle("POST /pull/file", pull)

	s.mux.Handle("POST /modify/device", s.instrument("modify", http.HandlerFunc(s.handleModify)))

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Metrics returns the server metrics, or nil when disabled.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout.Duration,
		IdleTimeout:       defaultIdleTimeout,
	}
	// Hijacked watch connections are not tracked by Shutdown.
	srv.RegisterOnShutdown(func() {
		s.closeOnce.Do(func() { close(s.closing) })
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting aperture server", "listen", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("shutting down aperture server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// instrument records the outcome and duration of op.
func (s *Server) instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordRequest(op, outcomeFor(rec.status), time.Since(start).Seconds())
	})
}

// compress gzips responses for clients that accept it, when enabled.
func (s *Server) compress(next http.Handler) http.Handler {
	if !s.cfg.Compress {
		return next
	}
	return gzhttp.GzipHandler(next)
}

// statusRecorder captures the response status. It passes hijacking through
// for websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
