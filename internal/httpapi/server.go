// Package httpapi exposes the bridge over HTTP: submit, fetch, blob
// download, and a health check.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dyluth/gateway/internal/blob"
	"github.com/dyluth/gateway/internal/bridge"
	"github.com/dyluth/gateway/internal/config"
	"github.com/dyluth/gateway/internal/logging"
)

// Bridge is the request side of the gateway.
type Bridge interface {
	Submit(ctx context.Context, content []byte, w bridge.Wait) bridge.Result
	Fetch(ctx context.Context, correlationID string, w bridge.Wait) bridge.Result
}

// Pinger reports backend connectivity for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Addr           string
	Prefix         string // Route prefix without trailing slash, e.g. "/api"
	WaitParam      string // Query parameter selecting the wait
	MaxBodyBytes   int64
	MaxMemoryBytes int64         // Multipart parts kept in memory before spilling to disk
	WriteTimeout   time.Duration // Must exceed the longest wait
}

// OptionsFromConfig derives server options from the gateway configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Addr:         cfg.HTTP.Addr,
		Prefix:       cfg.HTTP.Prefix,
		WaitParam:    cfg.Request.Response.TimeoutParamName,
		WriteTimeout: time.Duration(cfg.Request.Response.TimeoutMaxSec)*time.Second + 10*time.Second,
	}
}

// LocationFor returns the polling path for a correlation id under prefix.
func LocationFor(prefix string) func(string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(id string) string { return prefix + "/" + id }
}

// Server serves the gateway's HTTP surface.
type Server struct {
	bridge Bridge
	blobs  *blob.Store
	pinger Pinger
	opts   Options
	logger *logging.Logger

	server   *http.Server
	listener net.Listener
}

// New creates a Server. pinger may be nil, in which case /healthz always
// reports healthy.
func New(b Bridge, blobs *blob.Store, pinger Pinger, opts Options, logger *logging.Logger) *Server {
	if opts.WaitParam == "" {
		opts.WaitParam = "sync"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	if opts.MaxMemoryBytes <= 0 {
		opts.MaxMemoryBytes = 32 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 40 * time.Second
	}
	opts.Prefix = strings.TrimSuffix(opts.Prefix, "/")
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Server{
		bridge: b,
		blobs:  blobs,
		pinger: pinger,
		opts:   opts,
		logger: logger.Component("http"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	p := s.opts.Prefix
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET "+p+"/file/{hash}/{name}", s.handleFile)
	mux.HandleFunc("GET "+p+"/{correlation_id}", s.handleFetch)
	mux.HandleFunc(p+"/{$}", s.handleSubmit)
	if p != "" {
		mux.HandleFunc(p, s.handleSubmit)
	}

	return s.logRequests(mux)
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("HTTP server error", "error", err)
		}
	}()

	s.logger.Infow("HTTP server listening", "addr", ln.Addr().String(), "prefix", s.opts.Prefix)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server, letting in-flight waits finish
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugw("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
