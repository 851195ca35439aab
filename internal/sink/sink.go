// Package sink is the bounded admission buffer between the ingestion
// boundary and the store. Admission never blocks; a single consumer drains
// admitted records into the store in FIFO order.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"logpipe/internal/metrics"
	"logpipe/internal/queue"
	"logpipe/internal/schema"
)

var (
	// ErrBufferOverflow is returned by Ingest when the buffer is full. It
	// also matches queue.ErrQueueFull.
	ErrBufferOverflow = errors.New("backpressure: buffer full")

	// ErrSinkClosed is returned by Ingest after Stop.
	ErrSinkClosed = errors.New("sink closed")
)

// Appender receives drained records.
type Appender interface {
	Append(rec *schema.StoredRecord) error
}

// Config holds the sink configuration.
type Config struct {
	Capacity     int           `yaml:"capacity" validate:"gt=0"`
	ShutdownWait time.Duration `yaml:"shutdown_wait" validate:"gt=0"`
}

// DefaultConfig returns the default sink configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:     queue.DefaultCapacity,
		ShutdownWait: 30 * time.Second,
	}
}

// Metrics holds sink statistics.
type Metrics struct {
	Admitted   uint64 `json:"admitted"`
	Overflowed uint64 `json:"overflowed"`
	Drained    uint64 `json:"drained"`
	Errors     uint64 `json:"errors"`
	Depth      int    `json:"depth"`
	Capacity   int    `json:"capacity"`
}

// Sink buffers records for the store.
type Sink struct {
	queue    *queue.RingBuffer[*schema.StoredRecord]
	store    Appender
	config   Config
	pipeline *metrics.Pipeline
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	admitted   atomic.Uint64
	overflowed atomic.Uint64
	drained    atomic.Uint64
	errors     atomic.Uint64
}

// Option configures a Sink.
type Option func(*Sink)

// WithPipeline records overflows on p.
func WithPipeline(p *metrics.Pipeline) Option {
	return func(s *Sink) { s.pipeline = p }
}

// WithLogger sets the sink logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// WithClock replaces the clock used to stamp ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New creates a Sink draining into store.
func New(store Appender, cfg Config, opts ...Option) *Sink {
	defaults := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaults.Capacity
	}
	if cfg.ShutdownWait <= 0 {
		cfg.ShutdownWait = defaults.ShutdownWait
	}

	s := &Sink{
		queue:  queue.NewRingBuffer[*schema.StoredRecord](cfg.Capacity),
		store:  store,
		config: cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest admits rec without blocking and returns the stamped record. A full
// buffer yields an error matching ErrBufferOverflow.
func (s *Sink) Ingest(ctx context.Context, rec schema.Record) (*schema.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := schema.NewStoredRecord(rec, s.now())
	if err := s.queue.Push(stored); err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			s.overflowed.Add(1)
			s.pipeline.Overflow()
			return nil, fmt.Errorf("%w: %w", ErrBufferOverflow, err)
		case errors.Is(err, queue.ErrQueueClosed):
			return nil, fmt.Errorf("%w: %w", ErrSinkClosed, err)
		default:
			return nil, err
		}
	}

	s.admitted.Add(1)
	return stored, nil
}

// Start launches the consumer.
func (s *Sink) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.consume(runCtx)

	s.logger.Info("sink consumer started", "capacity", s.config.Capacity)
}

func (s *Sink) consume(ctx context.Context) {
	defer s.wg.Done()

	for {
		rec, err := s.queue.PopContext(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Warn("unexpected queue error", "error", err)
			s.errors.Add(1)
			continue
		}

		if err := s.store.Append(rec); err != nil {
			s.logger.Error("failed to store record",
				"id", rec.ID,
				"error", err,
			)
			s.errors.Add(1)
			continue
		}
		s.drained.Add(1)
	}
}

// Stop closes the buffer to new records and waits up to ShutdownWait for
// the consumer to drain what was already admitted.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.queue.Close()

		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			return
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("sink consumer stopped gracefully", "drained", s.drained.Load())
		case <-time.After(s.config.ShutdownWait):
			s.logger.Warn("sink consumer shutdown timed out", "remaining", s.queue.Len())
		}
		s.cancel()
	})
}

// Metrics returns sink statistics.
func (s *Sink) Metrics() Metrics {
	return Metrics{
		Admitted:   s.admitted.Load(),
		Overflowed: s.overflowed.Load(),
		Drained:    s.drained.Load(),
		Errors:     s.errors.Load(),
		Depth:      s.queue.Len(),
		Capacity:   s.queue.Cap(),
	}
}
