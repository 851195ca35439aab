package ingest

import (
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"logpipe/internal/schema"
	"logpipe/internal/worker"
)

// UDPServerConfig holds configuration for the UDP server.
type UDPServerConfig struct {
	Address         string
	ReadBufferSize  int
	MaxDatagramSize int
	Workers         int
	QueueSize       int
	DrainTimeout    time.Duration
}

// DefaultUDPServerConfig returns the default UDP server configuration.
func DefaultUDPServerConfig() UDPServerConfig {
	return UDPServerConfig{
		Address:         ":9091",
		ReadBufferSize:  4 * 1024 * 1024,
		MaxDatagramSize: 65536,
		Workers:         15,
		QueueSize:       1500,
		DrainTimeout:    30 * time.Second,
	}
}

// UDPServerMetrics holds metrics for the UDP server.
type UDPServerMetrics struct {
	Received   uint64 `json:"received"`
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Errors     uint64 `json:"errors"`
}

// UDPServer receives one wrapper payload per datagram. Delivery is best
// effort: nothing is acknowledged or retried.
type UDPServer struct {
	config  UDPServerConfig
	handler Handler
	opts    options

	conn *net.UDPConn
	pool *worker.Pool[[]byte]

	mu       sync.Mutex
	started  bool
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	received   atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	errors     atomic.Uint64
}

// NewUDPServer creates a UDP server that passes every datagram to handler.
func NewUDPServer(cfg UDPServerConfig, handler Handler, opts ...Option) *UDPServer {
	defaults := DefaultUDPServerConfig()
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = defaults.MaxDatagramSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaults.DrainTimeout
	}
	return &UDPServer{
		config:  cfg,
		handler: handler,
		opts:    buildOptions(opts),
		done:    make(chan struct{}),
	}
}

// Start binds the socket and starts the receive loop.
func (s *UDPServer) Start(ctx context.Context) error {
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

	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	if s.config.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(s.config.ReadBufferSize); err != nil {
			s.opts.logger.Warn("failed to set UDP read buffer", "error", err)
		}
	}

	var poolOpts []worker.Option[[]byte]
	if s.opts.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[[]byte](s.opts.registry, "logpipe_udp_pool"))
	}
	s.pool = worker.NewPool("udp", s.config.Workers, s.config.QueueSize, s.dispatch, poolOpts...)
	if err := s.pool.Start(ctx); err != nil {
		conn.Close()
		return err
	}

	s.conn = conn
	s.started = true

	s.opts.logger.Info("UDP server started",
		"address", conn.LocalAddr().String(),
		"workers", s.config.Workers,
	)

	s.wg.Add(1)
	go s.receiver(ctx)

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *UDPServer) receiver(ctx context.Context) {
	defer s.wg.Done()

	buffer := make([]byte, s.config.MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		// Set read deadline to allow periodic context checks
		s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, _, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				s.errors.Add(1)
				s.opts.logger.Debug("UDP read error", "error", err)
				continue
			}
		}

		payload := bytes.TrimSpace(buffer[:n])
		if len(payload) == 0 {
			continue
		}
		s.received.Add(1)
		s.opts.pipeline().Received(string(schema.ProtocolUDP))

		// Copy data to avoid buffer reuse issues
		if err := s.pool.Submit(bytes.Clone(payload)); err != nil {
			s.dropped.Add(1)
			s.opts.pipeline().Dropped(string(schema.ProtocolUDP))
			s.opts.logger.Debug("UDP datagram dropped", "error", err)
			continue
		}
		s.dispatched.Add(1)
	}
}

func (s *UDPServer) dispatch(_ context.Context, payload []byte) error {
	s.handler(payload)
	return nil
}

// Stop closes the socket and drains queued datagrams with a bounded wait.
// It is safe to call more than once and after a failed Start.
func (s *UDPServer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			return
		}
		conn.Close()
		s.wg.Wait()

		if err := s.pool.Stop(s.config.DrainTimeout); err != nil {
			s.opts.logger.Warn("UDP queue not drained", "error", err)
		}

		m := s.Metrics()
		s.opts.logger.Info("UDP server stopped",
			"received", m.Received,
			"dispatched", m.Dispatched,
			"dropped", m.Dropped,
			"errors", m.Errors,
		)
	})
}

// Metrics returns the current server metrics.
func (s *UDPServer) Metrics() UDPServerMetrics {
	return UDPServerMetrics{
		Received:   s.received.Load(),
		Dispatched: s.dispatched.Load(),
		Dropped:    s.dropped.Load(),
		Errors:     s.errors.Load(),
	}
}
