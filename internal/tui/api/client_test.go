package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"logpipe/internal/schema"
)

func TestNewClientTrimsTrailingSlash(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.BaseURL() != "http://localhost:8080" {
		t.Errorf("unexpected base url %q", c.BaseURL())
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("expected %v timeout, got %v", DefaultTimeout, c.httpClient.Timeout)
	}
}

func TestGetHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"UP","service":"log-server","totalLogs":7}`))
	}))
	defer ts.Close()

	h, err := NewClient(ts.URL).GetHealth()
	if err != nil {
		t.Fatalf("GetHealth: %v", err)
	}
	if !h.Healthy() || h.Service != "log-server" || h.TotalLogs != 7 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestGetMetrics(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalLogsReceived":4,"logsByCategory":{"linux_login":3,"unknown":1},"logsBySeverity":{"info":4}}`))
	}))
	defer ts.Close()

	m, err := NewClient(ts.URL).GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m.TotalProcessed != 4 || m.ByCategory["linux_login"] != 3 || m.BySeverity["info"] != 4 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestGetLogsQuery(t *testing.T) {
	tests := []struct {
		name  string
		query LogsQuery
		want  map[string]string
	}{
		{"limit only", LogsQuery{Limit: 25}, map[string]string{"sort": "timestamp", "limit": "25"}},
		{"blacklisted", LogsQuery{Limit: 5, BlacklistedOnly: true}, map[string]string{"sort": "timestamp", "limit": "5", "is.blacklisted": "true"}},
		{"no limit", LogsQuery{Username: "root"}, map[string]string{"sort": "timestamp", "username": "root"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/logs" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				got := r.URL.Query()
				if len(got) != len(tt.want) {
					t.Errorf("expected %d params, got %v", len(tt.want), got)
				}
				for k, v := range tt.want {
					if got.Get(k) != v {
						t.Errorf("param %s: expected %q, got %q", k, v, got.Get(k))
					}
				}
				recs := []schema.StoredRecord{{Record: schema.Record{
					Timestamp:     "2026-01-01T00:00:00.000000000Z",
					EventCategory: schema.CategoryLinuxLogin,
					Severity:      schema.SeverityInfo,
					Username:      schema.StringPtr("root"),
					IsBlacklisted: true,
				}}}
				json.NewEncoder(w).Encode(recs)
			}))
			defer ts.Close()

			logs, err := NewClient(ts.URL).GetLogs(tt.query)
			if err != nil {
				t.Fatalf("GetLogs: %v", err)
			}
			if len(logs) != 1 || logs[0].UsernameValue() != "root" || !logs[0].IsBlacklisted {
				t.Errorf("unexpected logs %+v", logs)
			}
		})
	}
}

func TestNon2xxStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":"error"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).GetLogs(LogsQuery{Limit: 1})
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Errorf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestConnectionFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	if _, err := NewClient(url).GetHealth(); err == nil {
		t.Error("expected error from closed server")
	}
}

func TestDecodeFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer ts.Close()

	if _, err := NewClient(ts.URL).GetMetrics(); err == nil {
		t.Error("expected decode error")
	}
}
