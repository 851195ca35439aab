package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	apperrors "logpipe/internal/errors"
	"logpipe/internal/middleware"
	"logpipe/internal/schema"
	"logpipe/internal/sink"
	"logpipe/internal/storage"
)

// IngestResponse is the body of a successful POST /ingest.
type IngestResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	ID      uuid.UUID `json:"id"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	TotalLogs int    `json:"totalLogs"`
}

// Messages returned to clients.
const (
	msgIngested     = "Log ingested"
	msgBackpressure = "Backpressure: buffer full"
)

// handleIngest handles POST /ingest.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var rec schema.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := s.validator.Validate(&rec); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.ingester.Ingest(r.Context(), rec)
	if err != nil {
		if errors.Is(err, sink.ErrBufferOverflow) {
			middleware.WriteError(w, http.StatusTooManyRequests, msgBackpressure)
			return
		}
		if errors.Is(err, sink.ErrSinkClosed) {
			middleware.WriteError(w, http.StatusServiceUnavailable, "server shutting down")
			return
		}
		s.logger.Error("failed to ingest record",
			"error", err,
			"request_id", middleware.RequestIDFrom(r.Context()))
		middleware.WriteError(w, http.StatusInternalServerError, apperrors.SafeMessage(err))
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, IngestResponse{
		Status:  middleware.StatusSuccess,
		Message: msgIngested,
		ID:      stored.ID,
	})
}

// parseFilter maps the query parameters onto a store filter.
func parseFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	f := storage.Filter{
		Category: q.Get("service"),
		Severity: q.Get("level"),
		Username: q.Get("username"),
		Sort:     q.Get("sort"),
	}

	if v := q.Get("is.blacklisted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid is.blacklisted %q: must be true or false", v)
		}
		f.IsBlacklisted = &b
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q: must be a positive integer", v)
		}
		f.Limit = n
	}

	return f, nil
}

// handleLogs handles GET /logs. The result is streamed as a JSON array.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte{'['}); err != nil {
		return
	}
	first := true
	for rec := range s.store.Query(f) {
		data, err := json.Marshal(rec)
		if err != nil {
			s.logger.Error("failed to encode record", "id", rec.ID, "error", err)
			continue
		}
		if !first {
			data = append([]byte{','}, data...)
		}
		first = false
		if _, err := w.Write(data); err != nil {
			return
		}
	}
	_, _ = w.Write([]byte("]\n"))
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, s.store.Metrics())
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "UP",
		Service:   "log-server",
		TotalLogs: s.store.Len(),
	})
}
