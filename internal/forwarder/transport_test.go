package forwarder

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/retry"
	"logpipe/internal/schema"
)

func TestNewKafkaSender_Validation(t *testing.T) {
	cfg := DefaultKafkaConfig()
	cfg.Brokers = nil
	_, err := NewKafkaSender(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultKafkaConfig()
	cfg.Topic = ""
	_, err = NewKafkaSender(cfg, nil)
	assert.Error(t, err)
}

func TestKafkaSender_WriterSettings(t *testing.T) {
	cfg := DefaultKafkaConfig()
	cfg.Compression = "snappy"
	s, err := NewKafkaSender(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, kafka.RequireAll, s.writer.RequiredAcks)
	assert.Equal(t, cfg.Topic, s.writer.Topic)
	assert.Equal(t, 1, s.writer.BatchSize)
	assert.Equal(t, kafka.Snappy, s.writer.Compression)
}

func TestKafkaSender_Security(t *testing.T) {
	cfg := DefaultKafkaConfig()
	s, err := NewKafkaSender(cfg, nil)
	require.NoError(t, err)
	tr, ok := s.writer.Transport.(*kafka.Transport)
	require.True(t, ok)
	assert.Nil(t, tr.TLS)
	assert.Nil(t, tr.SASL)
	s.Close()

	for _, mech := range []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"} {
		cfg := DefaultKafkaConfig()
		cfg.SASLMechanism = mech
		cfg.SASLUsername = "collector"
		cfg.SASLPassword = "secret"
		cfg.TLSEnabled = true
		s, err := NewKafkaSender(cfg, nil)
		require.NoError(t, err, mech)
		tr := s.writer.Transport.(*kafka.Transport)
		require.NotNil(t, tr.SASL, mech)
		assert.Equal(t, mech, tr.SASL.Name())
		require.NotNil(t, tr.TLS, mech)
		s.Close()
	}

	cfg = DefaultKafkaConfig()
	cfg.SASLMechanism = "GSSAPI"
	_, err = NewKafkaSender(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultKafkaConfig()
	cfg.TLSEnabled = true
	cfg.TLSCAFile = "/nonexistent/ca.pem"
	_, err = NewKafkaSender(cfg, nil)
	assert.Error(t, err)
}

func TestKafkaMessage(t *testing.T) {
	rec := testRecord("web-07")
	msg, err := kafkaMessage(rec)
	require.NoError(t, err)

	assert.Equal(t, "web-07", string(msg.Key))

	var decoded schema.Record
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, rec.EventCategory, decoded.EventCategory)
	assert.Equal(t, rec.RawMessage, decoded.RawMessage)
}

func TestKafkaMessage_NoHostname(t *testing.T) {
	rec := testRecord("x")
	rec.Hostname = nil
	msg, err := kafkaMessage(rec)
	require.NoError(t, err)
	assert.Empty(t, msg.Key)
}

func TestIsNonRetryableKafkaError(t *testing.T) {
	assert.True(t, isNonRetryableKafkaError(kafka.MessageSizeTooLarge))
	assert.True(t, isNonRetryableKafkaError(kafka.WriteErrors{nil, kafka.TopicAuthorizationFailed}))
	assert.False(t, isNonRetryableKafkaError(kafka.LeaderNotAvailable))
	assert.False(t, isNonRetryableKafkaError(kafka.WriteErrors{kafka.RequestTimedOut}))
}

func TestNewRedisSender_Validation(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = ""
	_, err := NewRedisSender(cfg)
	assert.Error(t, err)

	cfg = DefaultRedisConfig()
	cfg.Key = ""
	_, err = NewRedisSender(cfg)
	assert.Error(t, err)
}

func TestNewRedisSender_TLS(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.TLSEnabled = true
	s, err := NewRedisSender(cfg)
	require.NoError(t, err)
	defer s.Close()

	opts := s.client.Options()
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), opts.TLSConfig.MinVersion)
}

func TestRedisSender_UnreachableIsRetryable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.DialTimeout = 200 * time.Millisecond
	s, err := NewRedisSender(cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = s.Send(ctx, testRecord("h"))
	require.Error(t, err)
	assert.False(t, retry.IsNonRetryable(err))
	assert.Contains(t, err.Error(), cfg.Key)
}
