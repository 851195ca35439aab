// Package worker provides a generic bounded worker pool. Submission never
// blocks: a full queue is reported to the caller, who decides what to drop.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"logpipe/internal/metrics"
)

// Pool processes work items of type T on a fixed set of goroutines.
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	busy      atomic.Int64

	registry      *metrics.Registry
	metricsPrefix string
	metrics       *poolMetrics
	logger        *slog.Logger
}

type poolMetrics struct {
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers the pool's counters and queue gauges with reg,
// each name starting with prefix.
func WithMetrics[T any](reg *metrics.Registry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = reg
		p.metricsPrefix = prefix
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		p.logger = logger
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a
// queue of 1000.
func NewPool[T any](name string, workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		name:      name,
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.registry != nil && p.metricsPrefix != "" {
		p.initializeMetrics()
	}

	return p
}

func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix

	m := &poolMetrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total work items that failed processing",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Total work items dropped due to full queue",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		}, []string{"status"}),
	}
	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: prefix + "_queue_depth",
		Help: "Current worker pool queue depth",
	}, func() float64 { return float64(len(p.workChan)) })
	busy := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: prefix + "_busy_workers",
		Help: "Workers currently processing an item",
	}, func() float64 { return float64(p.busy.Load()) })

	collectors := map[string]prometheus.Collector{
		prefix + "_submitted_total":             m.submitted,
		prefix + "_processed_total":             m.processed,
		prefix + "_failed_total":                m.failed,
		prefix + "_dropped_total":               m.dropped,
		prefix + "_processing_duration_seconds": m.processingTime,
		prefix + "_queue_depth":                 queueDepth,
		prefix + "_busy_workers":                busy,
	}
	for name, c := range collectors {
		if err := p.registry.Register(name, c); err != nil {
			p.logger.Warn("worker pool metric not registered", "pool", p.name, "metric", name, "error", err)
		}
	}

	p.metrics = m
}

// Submit queues work without blocking. It returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if !p.started {
		return ErrPoolNotStarted
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Cancelling ctx stops them without draining.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return ErrPoolAlreadyStarted
	}

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued and in-flight
// work to finish. When the timeout passes the worker context is cancelled
// and ErrStopTimeout is returned. Stop is idempotent and may be called on a
// pool that was never started.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	close(p.workChan)
	p.lifecycleMu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		p.cancel()
		p.logger.Warn("worker pool stop timed out, cancelling workers",
			"pool", p.name,
			"timeout", timeout,
			"queued", len(p.workChan),
			"busy", p.busy.Load())
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Busy:       p.busy.Load(),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int64 `json:"busy"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.run(ctx, work)
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, work T) {
	p.busy.Add(1)
	start := time.Now()
	err := p.processor(ctx, work)
	duration := time.Since(start)
	p.busy.Add(-1)

	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
	}
}
