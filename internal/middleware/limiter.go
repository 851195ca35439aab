package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"logpipe/internal/metrics"
)

// ErrTooManyPending is returned by Acquire when the wait queue is full.
var ErrTooManyPending = errors.New("too many pending requests")

// LimiterConfig configures a ConcurrencyLimiter.
type LimiterConfig struct {
	MaxInFlight int      `yaml:"max_in_flight" validate:"gt=0"`
	MaxPending  int      `yaml:"max_pending" validate:"gte=0"`
	ExemptPaths []string `yaml:"exempt_paths"`
}

// DefaultLimiterConfig allows 20 concurrent requests with up to 10000
// waiting for a slot. Health checks bypass the limiter.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxInFlight: 20,
		MaxPending:  10000,
		ExemptPaths: []string{"/health"},
	}
}

// ConcurrencyLimiter bounds the number of requests handled at once. Requests
// beyond MaxInFlight wait for a slot; once MaxPending are already waiting,
// further requests are rejected.
type ConcurrencyLimiter struct {
	slots       chan struct{}
	maxPending  int64
	pending     atomic.Int64
	admitted    atomic.Uint64
	rejected    atomic.Uint64
	exemptPaths map[string]bool
	logger      *slog.Logger
}

// NewConcurrencyLimiter creates a limiter. A non-positive MaxInFlight falls
// back to the default.
func NewConcurrencyLimiter(cfg LimiterConfig, logger *slog.Logger) *ConcurrencyLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultLimiterConfig().MaxInFlight
	}
	if cfg.MaxPending < 0 {
		cfg.MaxPending = 0
	}

	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = true
	}

	return &ConcurrencyLimiter{
		slots:       make(chan struct{}, cfg.MaxInFlight),
		maxPending:  int64(cfg.MaxPending),
		exemptPaths: exempt,
		logger:      logger,
	}
}

// Acquire takes a slot, waiting while fewer than MaxPending others wait.
// Every successful Acquire must be paired with Release.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		l.admitted.Add(1)
		return nil
	default:
	}

	if l.pending.Add(1) > l.maxPending {
		l.pending.Add(-1)
		l.rejected.Add(1)
		return ErrTooManyPending
	}
	defer l.pending.Add(-1)

	select {
	case l.slots <- struct{}{}:
		l.admitted.Add(1)
		return nil
	case <-ctx.Done():
		l.rejected.Add(1)
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *ConcurrencyLimiter) Release() {
	<-l.slots
}

// Middleware applies the limiter. Rejected requests get 503 with a
// Retry-After header.
func (l *ConcurrencyLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.exemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if err := l.Acquire(r.Context()); err != nil {
			l.logger.Warn("request rejected by concurrency limiter",
				"path", r.URL.Path,
				"method", r.Method,
				"pending", l.pending.Load(),
				"error", err)
			w.Header().Set("Retry-After", "1")
			WriteError(w, http.StatusServiceUnavailable, "server busy")
			return
		}
		defer l.Release()

		next.ServeHTTP(w, r)
	})
}

// LimiterStats holds limiter statistics.
type LimiterStats struct {
	InFlight int    `json:"inFlight"`
	Pending  int64  `json:"pending"`
	Admitted uint64 `json:"admitted"`
	Rejected uint64 `json:"rejected"`
}

// Stats returns current limiter statistics.
func (l *ConcurrencyLimiter) Stats() LimiterStats {
	return LimiterStats{
		InFlight: len(l.slots),
		Pending:  l.pending.Load(),
		Admitted: l.admitted.Load(),
		Rejected: l.rejected.Load(),
	}
}

// RegisterMetrics exports in-flight and pending gauges and a rejection
// counter under prefix.
func (l *ConcurrencyLimiter) RegisterMetrics(reg *metrics.Registry, prefix string) error {
	collectors := map[string]prometheus.Collector{
		prefix + "_in_flight": prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: prefix + "_in_flight",
			Help: "Requests currently being handled",
		}, func() float64 { return float64(len(l.slots)) }),
		prefix + "_pending": prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: prefix + "_pending",
			Help: "Requests waiting for a slot",
		}, func() float64 { return float64(l.pending.Load()) }),
		prefix + "_rejected_total": prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: prefix + "_rejected_total",
			Help: "Requests rejected because the wait queue was full",
		}, func() float64 { return float64(l.rejected.Load()) }),
	}
	for name, c := range collectors {
		if err := reg.Register(name, c); err != nil {
			return err
		}
	}
	return nil
}
