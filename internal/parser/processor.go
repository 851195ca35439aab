package parser

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"logpipe/internal/logging"
	"logpipe/internal/schema"
)

// Forwarder receives parsed records for delivery downstream.
type Forwarder interface {
	Forward(rec schema.Record)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(rec schema.Record)

// Forward calls f(rec).
func (f ForwarderFunc) Forward(rec schema.Record) { f(rec) }

// Processor decodes wrapper payloads, parses them and forwards the result.
type Processor struct {
	parser    *Parser
	forwarder Forwarder
	logger    *slog.Logger

	processed atomic.Int64
	malformed atomic.Int64
	empty     atomic.Int64

	mu         sync.RWMutex
	byCategory map[string]*atomic.Int64
}

// ProcessorStats is a snapshot of the collector-side counters.
type ProcessorStats struct {
	TotalProcessed int64            `json:"totalLogsProcessed"`
	ByCategory     map[string]int64 `json:"logsByCategory"`
	Malformed      int64            `json:"malformedPayloads"`
	Empty          int64            `json:"emptyPayloads"`
}

// NewProcessor creates a Processor. A nil logger means slog.Default().
func NewProcessor(p *Parser, fwd Forwarder, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		parser:     p,
		forwarder:  fwd,
		logger:     logger,
		byCategory: make(map[string]*atomic.Int64),
	}
}

// Process handles one wrapper payload. Malformed and empty payloads are
// dropped.
func (p *Processor) Process(payload []byte) {
	raw, err := DecodeWrapper(payload)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyMessage):
			p.empty.Add(1)
		default:
			p.malformed.Add(1)
		}
		p.logger.Debug("dropping payload",
			"error", err,
			"payload", logging.Truncate(logging.Redact(string(payload)), 256))
		return
	}

	rec := p.parser.Parse(raw)
	p.forwarder.Forward(rec)

	p.processed.Add(1)
	p.counter(rec.EventCategory).Add(1)
}

func (p *Processor) counter(category string) *atomic.Int64 {
	p.mu.RLock()
	c, ok := p.byCategory[category]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok = p.byCategory[category]; !ok {
		c = new(atomic.Int64)
		p.byCategory[category] = c
	}
	return c
}

// Snapshot returns the current counters.
func (p *Processor) Snapshot() ProcessorStats {
	p.mu.RLock()
	byCategory := make(map[string]int64, len(p.byCategory))
	for k, v := range p.byCategory {
		byCategory[k] = v.Load()
	}
	p.mu.RUnlock()

	return ProcessorStats{
		TotalProcessed: p.processed.Load(),
		ByCategory:     byCategory,
		Malformed:      p.malformed.Load(),
		Empty:          p.empty.Load(),
	}
}
