package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"logpipe/internal/retry"
	"logpipe/internal/schema"
)

// ErrUnexpectedStatus is returned for a non-2xx response.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// HTTPSender posts each record as JSON to a log-server ingest endpoint.
type HTTPSender struct {
	url    string
	client *http.Client
}

// NewHTTPSender creates a sender for the given ingest URL.
func NewHTTPSender(rawURL string, timeout time.Duration) (*HTTPSender, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid forward url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid forward url %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid forward url %q: missing host", rawURL)
	}
	return &HTTPSender{
		url:    u.String(),
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Send posts rec. Client errors other than 429 are not retryable.
func (s *HTTPSender) Send(ctx context.Context, rec schema.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("marshal record: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.NonRetryable(statusErr)
	}
	return statusErr
}

// Close releases idle connections.
func (s *HTTPSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
