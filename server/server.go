// Package server exposes extractions over HTTP.
package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dhcgn/mail-scrub/extract"
	"github.com/dhcgn/mail-scrub/model"
)

const (
	DefaultAddr         = ":3000"
	DefaultMaxBodyBytes = 10 << 20
	DefaultCORSOrigin   = "*"

	shutdownTimeout = 5 * time.Second
)

// Extractor is the part of extract.Pipeline the handlers use.
type Extractor interface {
	Mailboxes(ctx context.Context, creds model.Credentials) ([]model.Mailbox, error)
	Extract(ctx context.Context, req extract.Request) (extract.Result, error)
	OutputPath() string
}

type Options struct {
	Addr         string
	CORSOrigin   string
	MaxBodyBytes int64
	// RateLimit is the number of requests one client IP may make per
	// RateWindow. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	// TrustProxy keys rate limiting and access logs on X-Forwarded-For
	// and X-Real-IP instead of the peer address.
	TrustProxy bool
}

type Server struct {
	opts      Options
	extractor Extractor
	logger    *slog.Logger
	limiter   *rateLimiter

	// extractMu serializes extractions, which share one working directory.
	extractMu  sync.Mutex
	extracting atomic.Bool
}

func New(opts Options, extractor Extractor, logger *slog.Logger) (*Server, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor must not be nil")
	}
	if opts.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must not be negative")
	}
	if opts.RateLimit > 0 && opts.RateWindow <= 0 {
		return nil, fmt.Errorf("rate window must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts.Addr = cmp.Or(opts.Addr, DefaultAddr)
	opts.CORSOrigin = cmp.Or(opts.CORSOrigin, DefaultCORSOrigin)
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		opts:      opts,
		extractor: extractor,
		logger:    logger,
	}
	if opts.RateLimit > 0 {
		s.limiter = newRateLimiter(opts.RateLimit, opts.RateWindow, time.Now)
	}
	return s, nil
}

// Handler returns the complete HTTP handler including middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.rateLimitMiddleware)

	router.HandleFunc("/connect", s.handleConnect).Methods(http.MethodPost)
	router.HandleFunc("/extract", s.handleExtract).Methods(http.MethodPost)
	router.HandleFunc("/download", s.handleDownload).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// CORS wraps the router so preflight requests are answered even though
	// no route accepts OPTIONS.
	return s.corsMiddleware(router)
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown", "err", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	err := httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}
