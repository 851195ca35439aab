// Package api provides the HTTP client the dashboard uses to poll the log server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"logpipe/internal/schema"
)

// DefaultTimeout bounds every request issued by the client.
const DefaultTimeout = 5 * time.Second

// ErrUnexpectedStatus is returned when the server answers with a non-2xx code.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Client handles API communication with the log server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// HealthResponse mirrors the log server's GET /health body.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	TotalLogs int    `json:"totalLogs"`
}

// Healthy reports whether the server declared itself up.
func (h HealthResponse) Healthy() bool {
	return h.Status == "UP"
}

// LogsQuery selects the records returned by GetLogs.
type LogsQuery struct {
	Limit           int
	BlacklistedOnly bool
	Username        string
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// BaseURL returns the server address the client polls.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetHealth fetches health status.
func (c *Client) GetHealth() (*HealthResponse, error) {
	var health HealthResponse
	if err := c.getJSON("/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetMetrics fetches the ingestion counters.
func (c *Client) GetMetrics() (*schema.MetricsState, error) {
	var m schema.MetricsState
	if err := c.getJSON("/metrics", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetLogs fetches the most recent records, oldest first.
func (c *Client) GetLogs(q LogsQuery) ([]schema.StoredRecord, error) {
	params := url.Values{}
	params.Set("sort", "timestamp")
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.BlacklistedOnly {
		params.Set("is.blacklisted", "true")
	}
	if q.Username != "" {
		params.Set("username", q.Username)
	}

	var logs []schema.StoredRecord
	if err := c.getJSON("/logs?"+params.Encode(), &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
