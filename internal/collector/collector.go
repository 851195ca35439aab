// Package collector serves the log-collector's HTTP surface: processing
// counters, listener and forwarder statistics, and health.
package collector

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"logpipe/internal/forwarder"
	"logpipe/internal/ingest"
	"logpipe/internal/metrics"
	"logpipe/internal/middleware"
	"logpipe/internal/parser"
)

// Sources are the components reported on. Nil entries are omitted.
type Sources struct {
	Processor *parser.Processor
	TCP       *ingest.TCPServer
	UDP       *ingest.UDPServer
	DTLS      *ingest.DTLSServer
	Forwarder *forwarder.Forwarder
	Registry  *metrics.Registry
}

// ListenerMetrics groups the listener counters.
type ListenerMetrics struct {
	TCP  *ingest.TCPServerMetrics  `json:"tcp,omitempty"`
	UDP  *ingest.UDPServerMetrics  `json:"udp,omitempty"`
	DTLS *ingest.DTLSServerMetrics `json:"dtls,omitempty"`
}

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	TotalProcessed int64              `json:"totalLogsProcessed"`
	ByCategory     map[string]int64   `json:"logsByCategory"`
	Malformed      int64              `json:"malformedPayloads"`
	Empty          int64              `json:"emptyPayloads"`
	Listeners      ListenerMetrics    `json:"listeners"`
	Forwarder      *forwarder.Metrics `json:"forwarder,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Handler returns the collector routes with middleware applied.
func Handler(src Sources, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()
	r.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, src.Snapshot())
	}).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, HealthResponse{Status: "UP", Service: "log-collector"})
	}).Methods(http.MethodGet)
	if src.Registry != nil {
		r.Handle("/metrics/prometheus", src.Registry.Handler()).Methods(http.MethodGet)
	}

	return middleware.Chain(r,
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery(logger),
		middleware.SecurityHeaders,
	)
}

// Snapshot collects the current counters.
func (src Sources) Snapshot() MetricsResponse {
	resp := MetricsResponse{ByCategory: map[string]int64{}}

	if src.Processor != nil {
		stats := src.Processor.Snapshot()
		resp.TotalProcessed = stats.TotalProcessed
		resp.ByCategory = stats.ByCategory
		resp.Malformed = stats.Malformed
		resp.Empty = stats.Empty
	}
	if src.TCP != nil {
		m := src.TCP.Metrics()
		resp.Listeners.TCP = &m
	}
	if src.UDP != nil {
		m := src.UDP.Metrics()
		resp.Listeners.UDP = &m
	}
	if src.DTLS != nil {
		m := src.DTLS.Metrics()
		resp.Listeners.DTLS = &m
	}
	if src.Forwarder != nil {
		m := src.Forwarder.Metrics()
		resp.Forwarder = &m
	}
	return resp
}
