// Package forwarder delivers parsed records downstream. Forward never
// blocks the caller: records are queued on a bounded worker pool and each
// delivery runs under a bounded retry loop.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"logpipe/internal/metrics"
	"logpipe/internal/retry"
	"logpipe/internal/schema"
	"logpipe/internal/worker"
)

// Transports.
const (
	TransportHTTP  = "http"
	TransportKafka = "kafka"
	TransportRedis = "redis"
)

// ErrUnknownTransport is returned by NewSender for an unsupported transport.
var ErrUnknownTransport = errors.New("unknown forward transport")

// Sender delivers a single record. Send must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, rec schema.Record) error
	Close() error
}

// RetryConfig is the per-record retry policy.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"gte=1"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gte=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`
	Multiplier   float64       `yaml:"multiplier" validate:"gte=1"`
}

// Config holds the forwarder configuration.
type Config struct {
	Transport    string        `yaml:"transport" validate:"oneof=http kafka redis"`
	URL          string        `yaml:"url"`
	Workers      int           `yaml:"workers" validate:"gt=0"`
	QueueSize    int           `yaml:"queue_size" validate:"gt=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	DrainTimeout time.Duration `yaml:"drain_timeout" validate:"gt=0"`
	Retry        RetryConfig   `yaml:"retry"`
	Kafka        KafkaConfig   `yaml:"kafka"`
	Redis        RedisConfig   `yaml:"redis"`
}

// DefaultConfig returns the default forwarder configuration: HTTP to a local
// log-server, 16 workers, four attempts backing off from 1s to 5s.
func DefaultConfig() Config {
	rc := retry.DefaultConfig()
	return Config{
		Transport:    TransportHTTP,
		URL:          "http://localhost:8080/ingest",
		Workers:      16,
		QueueSize:    10000,
		Timeout:      5 * time.Second,
		DrainTimeout: 30 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:  rc.MaxAttempts,
			InitialDelay: rc.InitialDelay,
			MaxDelay:     rc.MaxDelay,
			Multiplier:   rc.Multiplier,
		},
		Kafka: DefaultKafkaConfig(),
		Redis: DefaultRedisConfig(),
	}
}

// NewSender builds the Sender selected by cfg.Transport.
func NewSender(cfg Config, logger *slog.Logger) (Sender, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Transport {
	case "", TransportHTTP:
		return NewHTTPSender(cfg.URL, cfg.Timeout)
	case TransportKafka:
		return NewKafkaSender(cfg.Kafka, logger)
	case TransportRedis:
		return NewRedisSender(cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}

// Metrics holds forwarder statistics.
type Metrics struct {
	Forwarded  uint64 `json:"forwarded"`
	Retried    uint64 `json:"retried"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
	QueueDepth int    `json:"queueDepth"`
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithRegistry exports forwarder and pool metrics to reg.
func WithRegistry(reg *metrics.Registry) Option {
	return func(f *Forwarder) {
		f.registry = reg
		if reg != nil {
			f.pipeline = reg.Pipeline
		}
	}
}

// WithLogger sets the forwarder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// Forwarder queues records and delivers them through a Sender.
type Forwarder struct {
	sender       Sender
	pool         *worker.Pool[schema.Record]
	retry        retry.Config
	timeout      time.Duration
	drainTimeout time.Duration

	registry *metrics.Registry
	pipeline *metrics.Pipeline
	logger   *slog.Logger

	forwarded atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Forwarder. Call Start before Forward.
func New(sender Sender, cfg Config, opts ...Option) *Forwarder {
	f := &Forwarder{
		sender:       sender,
		timeout:      cfg.Timeout,
		drainTimeout: cfg.DrainTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.timeout <= 0 {
		f.timeout = 5 * time.Second
	}
	if f.drainTimeout <= 0 {
		f.drainTimeout = 30 * time.Second
	}

	f.retry = retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
		OnRetry:      f.onRetry,
	}

	poolOpts := []worker.Option[schema.Record]{worker.WithLogger[schema.Record](f.logger)}
	if f.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[schema.Record](f.registry, "logpipe_forward_pool"))
	}
	f.pool = worker.NewPool("forwarder", cfg.Workers, cfg.QueueSize, f.deliver, poolOpts...)
	return f
}

// Start launches the delivery workers.
func (f *Forwarder) Start(ctx context.Context) error {
	return f.pool.Start(ctx)
}

// Forward queues rec for delivery. A full queue drops the record.
func (f *Forwarder) Forward(rec schema.Record) {
	if err := f.pool.Submit(rec); err != nil {
		f.dropped.Add(1)
		f.pipeline.Forwarded(metrics.ForwardDropped)
		f.logger.Error("dropping record, forward queue unavailable",
			"category", rec.EventCategory,
			"error", err)
	}
}

func (f *Forwarder) onRetry(attempt int, err error, delay time.Duration) {
	f.retried.Add(1)
	f.pipeline.Forwarded(metrics.ForwardRetry)
	f.logger.Warn("forward attempt failed, retrying",
		"attempt", attempt,
		"delay", delay,
		"error", err)
}

func (f *Forwarder) deliver(ctx context.Context, rec schema.Record) error {
	err := retry.Do(ctx, f.retry, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		return f.sender.Send(sendCtx, rec)
	})
	if err != nil {
		f.failed.Add(1)
		f.pipeline.Forwarded(metrics.ForwardFailure)
		f.logger.Error("failed to forward record",
			"category", rec.EventCategory,
			"hostname", rec.HostnameValue(),
			"error", err)
		return err
	}

	f.forwarded.Add(1)
	f.pipeline.Forwarded(metrics.ForwardSuccess)
	return nil
}

// Stop waits for queued deliveries up to the drain timeout, then closes the
// sender.
func (f *Forwarder) Stop() error {
	poolErr := f.pool.Stop(f.drainTimeout)
	if poolErr != nil {
		f.logger.Warn("forward queue not drained", "error", poolErr)
	}
	if err := f.sender.Close(); err != nil {
		return errors.Join(poolErr, fmt.Errorf("close sender: %w", err))
	}
	return poolErr
}

// Metrics returns a snapshot of forwarder statistics.
func (f *Forwarder) Metrics() Metrics {
	return Metrics{
		Forwarded:  f.forwarded.Load(),
		Retried:    f.retried.Load(),
		Failed:     f.failed.Load(),
		Dropped:    f.dropped.Load(),
		QueueDepth: f.pool.Stats().QueueDepth,
	}
}
