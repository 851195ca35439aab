package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "test"})
	require.NoError(t, r.Register("test_counter_total", c))

	err := r.Register("test_counter_total", c)
	assert.True(t, errors.Is(err, ErrDuplicateMetric))

	assert.True(t, r.Unregister("test_counter_total"))
	assert.False(t, r.Unregister("test_counter_total"))
	require.NoError(t, r.Register("test_counter_total", c))
}

func TestPipeline_Counters(t *testing.T) {
	r := NewRegistry()
	p := r.Pipeline

	p.Received("TCP")
	p.Received("TCP")
	p.Received("UDP")
	p.Dropped("UDP")
	p.Forwarded(ForwardSuccess)
	p.Overflow()
	p.Stored("linux_login")
	p.Stored("linux_login")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.listenerReceived.WithLabelValues("TCP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.listenerReceived.WithLabelValues("UDP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.listenerDropped.WithLabelValues("UDP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.forward.WithLabelValues(ForwardSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sinkOverflow))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.storeTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.storeRecords.WithLabelValues("linux_login")))
}

func TestPipeline_Nil(t *testing.T) {
	var p *Pipeline
	assert.NotPanics(t, func() {
		p.Received("TCP")
		p.Dropped("TCP")
		p.Forwarded(ForwardFailure)
		p.Overflow()
		p.Stored("unknown")
	})
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Pipeline.Overflow()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "logpipe_sink_overflow_total 1"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
