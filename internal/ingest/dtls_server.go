package ingest

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v2"

	"logpipe/internal/schema"
	"logpipe/internal/worker"
)

var (
	// ErrDTLSCertRequired is returned when no certificate pair is configured.
	ErrDTLSCertRequired = errors.New("DTLS requires certificate and key")
	// ErrDTLSClientCertRequired is returned when mutual TLS lacks a CA.
	ErrDTLSClientCertRequired = errors.New("mutual TLS requires CA certificate")
)

// DTLSServerConfig holds configuration for the DTLS listener.
type DTLSServerConfig struct {
	Address  string
	CertFile string
	KeyFile  string

	// CAFile verifies client certificates when RequireClientCert is set.
	CAFile            string
	RequireClientCert bool

	Workers          int
	QueueSize        int
	MaxDatagramSize  int
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	DrainTimeout     time.Duration
}

// DefaultDTLSServerConfig returns the default DTLS listener configuration.
func DefaultDTLSServerConfig() DTLSServerConfig {
	return DTLSServerConfig{
		Address:          ":9093",
		Workers:          15,
		QueueSize:        1500,
		MaxDatagramSize:  65535,
		HandshakeTimeout: 30 * time.Second,
		IdleTimeout:      5 * time.Minute,
		DrainTimeout:     30 * time.Second,
	}
}

// DTLSServerMetrics holds metrics for the DTLS listener.
type DTLSServerMetrics struct {
	Connections   uint64 `json:"connections"`
	HandshakeErrs uint64 `json:"handshakeErrors"`
	Received      uint64 `json:"received"`
	Dispatched    uint64 `json:"dispatched"`
	Dropped       uint64 `json:"dropped"`
	Errors        uint64 `json:"errors"`
}

// DTLSServer receives one wrapper payload per DTLS record. Each client holds a
// session; payloads from all sessions share one dispatch pool.
type DTLSServer struct {
	config  DTLSServerConfig
	handler Handler
	opts    options

	listener net.Listener
	pool     *worker.Pool[[]byte]

	mu       sync.Mutex
	started  bool
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	connections   atomic.Uint64
	handshakeErrs atomic.Uint64
	received      atomic.Uint64
	dispatched    atomic.Uint64
	dropped       atomic.Uint64
	errors        atomic.Uint64
}

// NewDTLSServer creates a DTLS listener that passes every payload to handler.
func NewDTLSServer(cfg DTLSServerConfig, handler Handler, opts ...Option) (*DTLSServer, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, ErrDTLSCertRequired
	}
	if cfg.RequireClientCert && cfg.CAFile == "" {
		return nil, ErrDTLSClientCertRequired
	}

	defaults := DefaultDTLSServerConfig()
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = defaults.MaxDatagramSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaults.DrainTimeout
	}

	return &DTLSServer{
		config:  cfg,
		handler: handler,
		opts:    buildOptions(opts),
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}, nil
}

func (s *DTLSServer) dtlsConfig(ctx context.Context) (*dtls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DTLS certificate: %w", err)
	}

	cfg := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, s.config.HandshakeTimeout)
		},
	}

	if s.config.RequireClientCert {
		caData, err := os.ReadFile(s.config.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, errors.New("failed to parse CA certificate")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = dtls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// Start binds the socket and starts accepting sessions.
func (s *DTLSServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return ErrServerStopped
	default:
	}
	if s.started {
		return ErrServerStarted
	}

	cfg, err := s.dtlsConfig(ctx)
	if err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}
	listener, err := dtls.Listen("udp", addr, cfg)
	if err != nil {
		return fmt.Errorf("failed to start DTLS listener: %w", err)
	}

	var poolOpts []worker.Option[[]byte]
	if s.opts.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[[]byte](s.opts.registry, "logpipe_dtls_pool"))
	}
	s.pool = worker.NewPool("dtls", s.config.Workers, s.config.QueueSize, s.dispatch, poolOpts...)
	if err := s.pool.Start(ctx); err != nil {
		listener.Close()
		return err
	}

	s.listener = listener
	s.started = true

	s.opts.logger.Info("DTLS server started",
		"address", listener.Addr().String(),
		"mutual_tls", s.config.RequireClientCert,
		"workers", s.config.Workers,
	)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *DTLSServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *DTLSServer) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.handshakeErrs.Add(1)
			s.opts.logger.Debug("DTLS accept error", "error", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.connections.Add(1)

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// track registers conn so Stop can close it. It reports false once Stop has
// begun.
func (s *DTLSServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *DTLSServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *DTLSServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.opts.logger.Debug("new DTLS session", "remote", remote)

	buffer := make([]byte, s.config.MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		n, err := conn.Read(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.opts.logger.Debug("DTLS session idle timeout", "remote", remote)
				return
			}
			select {
			case <-s.done:
			default:
				s.errors.Add(1)
				s.opts.logger.Debug("DTLS read error", "error", err, "remote", remote)
			}
			return
		}

		payload := bytes.TrimSpace(buffer[:n])
		if len(payload) == 0 {
			continue
		}
		s.received.Add(1)
		s.opts.pipeline().Received(string(schema.ProtocolDTLS))

		if err := s.pool.Submit(bytes.Clone(payload)); err != nil {
			s.dropped.Add(1)
			s.opts.pipeline().Dropped(string(schema.ProtocolDTLS))
			s.opts.logger.Debug("DTLS payload dropped", "error", err, "remote", remote)
			continue
		}
		s.dispatched.Add(1)
	}
}

func (s *DTLSServer) dispatch(_ context.Context, payload []byte) error {
	s.handler(payload)
	return nil
}

// Stop closes the listener and every session, then drains queued payloads
// with a bounded wait. It is safe to call more than once.
func (s *DTLSServer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		listener := s.listener
		conns := make([]net.Conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		if listener == nil {
			return
		}
		listener.Close()
		for _, c := range conns {
			c.Close()
		}
		s.wg.Wait()

		if err := s.pool.Stop(s.config.DrainTimeout); err != nil {
			s.opts.logger.Warn("DTLS queue not drained", "error", err)
		}

		m := s.Metrics()
		s.opts.logger.Info("DTLS server stopped",
			"connections", m.Connections,
			"handshake_errors", m.HandshakeErrs,
			"received", m.Received,
			"dispatched", m.Dispatched,
			"dropped", m.Dropped,
			"errors", m.Errors,
		)
	})
}

// Metrics returns the current server metrics.
func (s *DTLSServer) Metrics() DTLSServerMetrics {
	return DTLSServerMetrics{
		Connections:   s.connections.Load(),
		HandshakeErrs: s.handshakeErrs.Load(),
		Received:      s.received.Load(),
		Dispatched:    s.dispatched.Load(),
		Dropped:       s.dropped.Load(),
		Errors:        s.errors.Load(),
	}
}
