// Package ingest implements the TCP, UDP and DTLS log listeners. Each listener
// hands complete wrapper payloads to a Handler through its own bounded
// worker pools.
package ingest

import (
	"errors"
	"log/slog"

	"logpipe/internal/metrics"
)

var (
	// ErrServerStarted is returned by Start on a running server.
	ErrServerStarted = errors.New("server already started")
	// ErrServerStopped is returned by Start after Stop.
	ErrServerStopped = errors.New("server stopped")
)

// Handler processes one wrapper payload. It is called from pool workers and
// must be safe for concurrent use.
type Handler func(payload []byte)

// Option configures a listener.
type Option func(*options)

type options struct {
	registry *metrics.Registry
	logger   *slog.Logger
}

// WithRegistry exports listener and pool metrics to reg.
func WithRegistry(reg *metrics.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithLogger sets the listener logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) pipeline() *metrics.Pipeline {
	if o.registry == nil {
		return nil
	}
	return o.registry.Pipeline
}
