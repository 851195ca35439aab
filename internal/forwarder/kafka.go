package forwarder

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"logpipe/internal/retry"
	"logpipe/internal/schema"
)

// KafkaConfig configures the Kafka transport.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	Compression  string        `yaml:"compression" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// SASLMechanism: PLAIN, SCRAM-SHA-256, SCRAM-SHA-512. Empty disables SASL.
	SASLMechanism string `yaml:"sasl_mechanism" validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	SASLUsername  string `yaml:"sasl_username" validate:"required_with=SASLMechanism"`
	SASLPassword  string `yaml:"sasl_password" validate:"required_with=SASLMechanism"`

	TLSEnabled    bool   `yaml:"tls_enabled"`
	TLSCAFile     string `yaml:"tls_ca_file"`
	TLSCertFile   string `yaml:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile    string `yaml:"tls_key_file" validate:"required_with=TLSCertFile"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
}

// DefaultKafkaConfig returns the default Kafka transport configuration.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "logpipe-records",
		Compression:  "none",
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

func (c KafkaConfig) compression() kafka.Compression {
	switch strings.ToLower(c.Compression) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

// tlsConfig builds the client TLS configuration, or nil when TLS is off.
func (c KafkaConfig) tlsConfig(logger *slog.Logger) (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	if c.TLSSkipVerify {
		logger.Warn("TLS certificate verification is disabled for kafka")
	}

	cfg := &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if c.TLSCAFile != "" {
		pem, err := os.ReadFile(c.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("parse CA certificate")
		}
		cfg.RootCAs = pool
	}

	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// saslMechanism returns the configured mechanism, or nil when SASL is off.
func (c KafkaConfig) saslMechanism() (sasl.Mechanism, error) {
	switch c.SASLMechanism {
	case "":
		return nil, nil
	case "PLAIN":
		return plain.Mechanism{Username: c.SASLUsername, Password: c.SASLPassword}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.SASLUsername, c.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.SASLUsername, c.SASLPassword)
	}
	return nil, fmt.Errorf("unsupported SASL mechanism %q", c.SASLMechanism)
}

// KafkaSender writes each record to a topic and waits for all in-sync
// replicas to acknowledge it.
type KafkaSender struct {
	writer *kafka.Writer
}

// NewKafkaSender creates a Kafka sender.
func NewKafkaSender(cfg KafkaConfig, logger *slog.Logger) (*KafkaSender, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	tlsCfg, err := cfg.tlsConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("kafka: configure TLS: %w", err)
	}
	mechanism, err := cfg.saslMechanism()
	if err != nil {
		return nil, fmt.Errorf("kafka: configure SASL: %w", err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  1,
		RequiredAcks: kafka.RequireAll,
		Compression:  cfg.compression(),
		Transport: &kafka.Transport{
			TLS:  tlsCfg,
			SASL: mechanism,
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("kafka sender initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression,
		"tls", cfg.TLSEnabled,
		"sasl", cfg.SASLMechanism)

	return &KafkaSender{writer: writer}, nil
}

// Send writes rec synchronously. The writer makes a single attempt; retries
// belong to the forwarder.
func (s *KafkaSender) Send(ctx context.Context, rec schema.Record) error {
	msg, err := kafkaMessage(rec)
	if err != nil {
		return retry.NonRetryable(err)
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		if isNonRetryableKafkaError(err) {
			return retry.NonRetryable(fmt.Errorf("kafka: %w", err))
		}
		return fmt.Errorf("kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

// kafkaMessage keys the message by hostname so one host's records stay on
// one partition.
func kafkaMessage(rec schema.Record) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal record: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rec.HostnameValue()),
		Value: value,
		Time:  time.Now(),
	}, nil
}

func isNonRetryableKafkaError(err error) bool {
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil && isNonRetryableKafkaError(e) {
				return true
			}
		}
		return false
	}
	return errors.Is(err, kafka.MessageSizeTooLarge) ||
		errors.Is(err, kafka.InvalidTopic) ||
		errors.Is(err, kafka.TopicAuthorizationFailed) ||
		errors.Is(err, kafka.ClusterAuthorizationFailed)
}
