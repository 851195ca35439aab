package ingest

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"logpipe/internal/schema"
	"logpipe/internal/worker"
)

// stopReadGrace is how long connections may keep reading once Stop begins.
// Lines already in flight are read; idle readers unblock immediately after.
const stopReadGrace = 500 * time.Millisecond

// TCPServerConfig holds configuration for the TCP server.
type TCPServerConfig struct {
	Address     string
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string

	// Workers bounds concurrently served connections. QueueSize bounds
	// accepted connections waiting for a worker.
	Workers   int
	QueueSize int

	// DispatchWorkers and DispatchQueueSize size the pool that runs the
	// handler for each line.
	DispatchWorkers   int
	DispatchQueueSize int

	IdleTimeout   time.Duration
	MaxLineLength int
	DrainTimeout  time.Duration
}

// DefaultTCPServerConfig returns the default TCP server configuration.
func DefaultTCPServerConfig() TCPServerConfig {
	return TCPServerConfig{
		Address:           ":9090",
		Workers:           20,
		QueueSize:         20,
		DispatchWorkers:   30,
		DispatchQueueSize: 20000,
		IdleTimeout:       5 * time.Minute,
		MaxLineLength:     65535,
		DrainTimeout:      30 * time.Second,
	}
}

// TCPServerMetrics holds metrics for the TCP server.
type TCPServerMetrics struct {
	Connections uint64 `json:"connections"`
	Rejected    uint64 `json:"rejected"`
	Received    uint64 `json:"received"`
	Dispatched  uint64 `json:"dispatched"`
	Dropped     uint64 `json:"dropped"`
	Errors      uint64 `json:"errors"`
}

// TCPServer receives newline-delimited wrapper payloads over TCP.
type TCPServer struct {
	config  TCPServerConfig
	handler Handler
	opts    options

	listener net.Listener
	connPool *worker.Pool[net.Conn]
	linePool *worker.Pool[[]byte]

	mu      sync.Mutex
	started bool
	conns   map[net.Conn]struct{}

	acceptWG sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	// stopDeadline is the read deadline, in unix nanoseconds, every
	// connection converges on once Stop has begun. Zero while running.
	stopDeadline atomic.Int64

	connections atomic.Uint64
	rejected    atomic.Uint64
	received    atomic.Uint64
	dispatched  atomic.Uint64
	dropped     atomic.Uint64
	errors      atomic.Uint64
}

// NewTCPServer creates a TCP server that passes every line to handler.
func NewTCPServer(cfg TCPServerConfig, handler Handler, opts ...Option) *TCPServer {
	defaults := DefaultTCPServerConfig()
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = defaults.MaxLineLength
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaults.DrainTimeout
	}
	return &TCPServer{
		config:  cfg,
		handler: handler,
		opts:    buildOptions(opts),
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
}

// Start binds the listener and starts accepting connections.
func (s *TCPServer) Start(ctx context.Context) error {
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

	listener, err := s.listen()
	if err != nil {
		return err
	}

	var connOpts []worker.Option[net.Conn]
	var lineOpts []worker.Option[[]byte]
	if s.opts.registry != nil {
		connOpts = append(connOpts, worker.WithMetrics[net.Conn](s.opts.registry, "logpipe_tcp_pool"))
		lineOpts = append(lineOpts, worker.WithMetrics[[]byte](s.opts.registry, "logpipe_processor_pool"))
	}
	s.connPool = worker.NewPool("tcp", s.config.Workers, s.config.QueueSize, s.handleConnection, connOpts...)
	s.linePool = worker.NewPool("processor", s.config.DispatchWorkers, s.config.DispatchQueueSize, s.dispatch, lineOpts...)

	if err := s.linePool.Start(ctx); err != nil {
		listener.Close()
		return err
	}
	if err := s.connPool.Start(ctx); err != nil {
		listener.Close()
		return err
	}

	s.listener = listener
	s.started = true

	s.opts.logger.Info("TCP server started",
		"address", listener.Addr().String(),
		"tls", s.config.TLSEnabled,
		"workers", s.config.Workers,
	)

	s.acceptWG.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

func (s *TCPServer) listen() (net.Listener, error) {
	if !s.config.TLSEnabled {
		return net.Listen("tcp", s.config.Address)
	}

	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.config.Address, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
}

// Addr returns the bound address, or nil before Start.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) acceptLoop(ctx context.Context) {
	defer s.acceptWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		// Set accept deadline to allow periodic context checks
		if tcpListener, ok := s.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(100 * time.Millisecond))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				s.errors.Add(1)
				s.opts.logger.Debug("TCP accept error", "error", err)
				continue
			}
		}

		s.track(conn)
		if err := s.connPool.Submit(conn); err != nil {
			s.rejected.Add(1)
			s.opts.logger.Warn("TCP connection rejected",
				"remote", conn.RemoteAddr().String(),
				"error", err,
			)
			s.untrack(conn)
			conn.Close()
			continue
		}
		s.connections.Add(1)
	}
}

func (s *TCPServer) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *TCPServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) error {
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.opts.logger.Debug("new TCP connection", "remote", remote)

	reader := bufio.NewReaderSize(conn, s.config.MaxLineLength)
	discarding := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.armReadDeadline(conn)

		line, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if !discarding {
				s.errors.Add(1)
				s.opts.logger.Debug("TCP line too long, discarding", "remote", remote, "max", s.config.MaxLineLength)
			}
			discarding = true
			continue
		}
		if discarding {
			// Tail of an oversized line.
			discarding = false
			if err == nil {
				continue
			}
			line = nil
		}

		if len(line) > 0 {
			s.submitLine(line)
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if s.stopDeadline.Load() != 0 {
					s.opts.logger.Debug("TCP connection closed for shutdown", "remote", remote)
				} else {
					s.opts.logger.Debug("TCP connection idle, closing", "remote", remote)
				}
				return nil
			}
			select {
			case <-s.done:
				return nil
			default:
			}
			s.errors.Add(1)
			s.opts.logger.Debug("TCP read error", "remote", remote, "error", err)
			return err
		}
	}
}

func (s *TCPServer) submitLine(line []byte) {
	payload := bytes.TrimSpace(line)
	if len(payload) == 0 {
		return
	}
	s.received.Add(1)
	s.opts.pipeline().Received(string(schema.ProtocolTCP))

	// ReadSlice reuses its buffer.
	if err := s.linePool.Submit(bytes.Clone(payload)); err != nil {
		s.dropped.Add(1)
		s.opts.pipeline().Dropped(string(schema.ProtocolTCP))
		s.opts.logger.Debug("TCP line dropped", "error", err)
		return
	}
	s.dispatched.Add(1)
}

func (s *TCPServer) dispatch(_ context.Context, payload []byte) error {
	s.handler(payload)
	return nil
}

// Stop closes the listener, waits up to DrainTimeout for open connections
// and queued lines, then closes whatever connections remain. It is safe to
// call more than once and after a failed Start.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		listener := s.listener
		s.mu.Unlock()

		if listener == nil {
			return
		}
		listener.Close()
		s.acceptWG.Wait()
		s.expireReads(time.Now().Add(stopReadGrace))

		if err := s.connPool.Stop(s.config.DrainTimeout); err != nil {
			s.opts.logger.Warn("TCP connections still open after drain timeout, closing", "error", err)
			s.closeConnections()
		}
		if err := s.linePool.Stop(s.config.DrainTimeout); err != nil {
			s.opts.logger.Warn("TCP line queue not drained", "error", err)
		}

		m := s.Metrics()
		s.opts.logger.Info("TCP server stopped",
			"connections", m.Connections,
			"received", m.Received,
			"dispatched", m.Dispatched,
			"dropped", m.Dropped,
			"errors", m.Errors,
		)
	})
}

// armReadDeadline sets the idle deadline, or the stop deadline once Stop
// has begun. The second load covers a Stop racing with the first Set.
func (s *TCPServer) armReadDeadline(conn net.Conn) {
	if d := s.stopDeadline.Load(); d != 0 {
		conn.SetReadDeadline(time.Unix(0, d))
		return
	}
	conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
	if d := s.stopDeadline.Load(); d != 0 {
		conn.SetReadDeadline(time.Unix(0, d))
	}
}

// expireReads bounds every open connection's reads by deadline.
func (s *TCPServer) expireReads(deadline time.Time) {
	s.stopDeadline.Store(deadline.UnixNano())

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.SetReadDeadline(deadline)
	}
}

func (s *TCPServer) closeConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}

// Metrics returns the current server metrics.
func (s *TCPServer) Metrics() TCPServerMetrics {
	return TCPServerMetrics{
		Connections: s.connections.Load(),
		Rejected:    s.rejected.Load(),
		Received:    s.received.Load(),
		Dispatched:  s.dispatched.Load(),
		Dropped:     s.dropped.Load(),
		Errors:      s.errors.Load(),
	}
}

// ActiveConnections returns the number of accepted connections not yet closed.
func (s *TCPServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
