// Package server is the log-server HTTP boundary: record ingestion into the
// sink, filtered queries over the store, and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"logpipe/internal/metrics"
	"logpipe/internal/middleware"
	"logpipe/internal/schema"
	"logpipe/internal/storage"
)

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("http server already started")

// Config holds the HTTP listener configuration.
type Config struct {
	Address         string        `yaml:"address" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"gt=0"`
}

// DefaultConfig returns the default log-server listener configuration.
func DefaultConfig() Config {
	return Config{
		Address:         ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}

// Ingester admits records. *sink.Sink implements it.
type Ingester interface {
	Ingest(ctx context.Context, rec schema.Record) (*schema.StoredRecord, error)
}

// Store is the read side of the record store. *storage.MemoryStore
// implements it.
type Store interface {
	Query(f storage.Filter) iter.Seq[schema.StoredRecord]
	Metrics() schema.MetricsState
	Len() int
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry serves reg at /metrics/prometheus.
func WithRegistry(reg *metrics.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLimiter bounds request concurrency.
func WithLimiter(l *middleware.ConcurrencyLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// Server serves the log-server routes.
type Server struct {
	config    Config
	ingester  Ingester
	store     Store
	validator *schema.Validator
	registry  *metrics.Registry
	limiter   *middleware.ConcurrencyLimiter
	logger    *slog.Logger
	handler   http.Handler

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// New creates a Server.
func New(cfg Config, ingester Ingester, store Store, opts ...Option) *Server {
	s := &Server{
		config:    cfg,
		ingester:  ingester,
		store:     store,
		validator: schema.NewValidator(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.MaxBodyBytes <= 0 {
		s.config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.registry != nil {
		r.Handle("/metrics/prometheus", s.registry.Handler()).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.Recovery(s.logger),
		middleware.SecurityHeaders,
	}
	if s.limiter != nil {
		mws = append(mws, s.limiter.Middleware)
	}
	return middleware.Chain(r, mws...)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	s.listener = ln
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}(s.http)

	s.logger.Info("http server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests and waits for in-flight ones up to the
// configured shutdown timeout or ctx, whichever ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
