// Package server is the HTTP serving layer. It maps /~<owner>/<tail>
// resource addresses onto content in the cache repository.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rwx-im/rwx-im/pkg/cache"
	"github.com/rwx-im/rwx-im/pkg/repository"
)

const (
	// DefaultAddr is the fixed listen address.
	DefaultAddr = "0.0.0.0:34413"

	// DefaultMaxUploadBytes caps a single PUT body.
	DefaultMaxUploadBytes = 64 << 20

	// IndexBody is served for GET /.
	IndexBody = "hello world"
)

// Config holds server configuration.
type Config struct {
	// Addr is the address the listener is bound to
	Addr string

	// MaxUploadBytes caps a PUT body; larger bodies get 413
	MaxUploadBytes int64

	// LookupTTL is how long an address lookup stays cached
	LookupTTL time.Duration

	// ReadHeaderTimeout bounds reading request headers
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout bounds draining in-flight requests
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:              DefaultAddr,
		MaxUploadBytes:    DefaultMaxUploadBytes,
		LookupTTL:         cache.DefaultTTL,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
}

// Server serves resource addresses from a content store.
type Server struct {
	store   repository.ContentStore
	lookups cache.Store
	config  Config
	logger  zerolog.Logger
	handler http.Handler
	http    *http.Server
}

// New creates a server over store. lookups may be nil, in which case every
// request goes to the store.
func New(store repository.ContentStore, lookups cache.Store, cfg Config) *Server {
	if store == nil {
		panic("content store cannot be nil")
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.LookupTTL <= 0 {
		cfg.LookupTTL = def.LookupTTL
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if lookups == nil {
		lookups = cache.NewTiered()
	}

	s := &Server{
		store:   store,
		lookups: lookups,
		config:  cfg,
		logger:  log.With().Str("component", "server").Logger(),
	}
	s.handler = s.withRequestID(s.instrument(http.HandlerFunc(s.dispatch)))
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Addr
}

// Serve accepts connections on ln until Shutdown is called. It returns nil
// after a graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Serving cache repository")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests, at
// most ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("Shutting down server")
	return s.http.Shutdown(ctx)
}
