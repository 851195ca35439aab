// Package config loads the logpipe configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"logpipe/internal/catalog"
	"logpipe/internal/forwarder"
	"logpipe/internal/logging"
	"logpipe/internal/middleware"
	"logpipe/internal/server"
	"logpipe/internal/sink"
)

// EnvConfigPath names the config file when no -config flag is given.
const EnvConfigPath = "LOGPIPE_CONFIG"

// Config holds the complete configuration for every logpipe binary.
type Config struct {
	Logging   logging.Options `yaml:"logging"`
	Collector CollectorConfig `yaml:"collector"`
	Server    ServerConfig    `yaml:"server"`
	TUI       TUIConfig       `yaml:"tui"`
}

// CollectorConfig configures the log-collector.
type CollectorConfig struct {
	TCP       TCPConfig        `yaml:"tcp"`
	UDP       UDPConfig        `yaml:"udp"`
	DTLS      DTLSConfig       `yaml:"dtls"`
	Processor ProcessorConfig  `yaml:"processor"`
	Forward   forwarder.Config `yaml:"forward"`
	HTTP      server.Config    `yaml:"http"`
	Blacklist []string         `yaml:"blacklist" validate:"dive,required"`
}

// TCPConfig configures the TCP listener.
type TCPConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address" validate:"required_if=Enabled true"`
	Workers       int           `yaml:"workers" validate:"gt=0"`
	QueueSize     int           `yaml:"queue_size" validate:"gt=0"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	MaxLineLength int           `yaml:"max_line_length" validate:"gt=0"`
	DrainTimeout  time.Duration `yaml:"drain_timeout" validate:"gt=0"`
	TLSEnabled    bool          `yaml:"tls_enabled"`
	TLSCertFile   string        `yaml:"tls_cert_file" validate:"required_if=TLSEnabled true"`
	TLSKeyFile    string        `yaml:"tls_key_file" validate:"required_if=TLSEnabled true"`
}

// UDPConfig configures the UDP listener.
type UDPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address" validate:"required_if=Enabled true"`
	Workers         int           `yaml:"workers" validate:"gt=0"`
	QueueSize       int           `yaml:"queue_size" validate:"gt=0"`
	ReadBufferSize  int           `yaml:"read_buffer_size" validate:"gte=0"`
	MaxDatagramSize int           `yaml:"max_datagram_size" validate:"gt=0,lte=65536"`
	DrainTimeout    time.Duration `yaml:"drain_timeout" validate:"gt=0"`
}

// DTLSConfig configures the optional DTLS listener.
type DTLSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Address           string        `yaml:"address" validate:"required_if=Enabled true"`
	CertFile          string        `yaml:"cert_file" validate:"required_if=Enabled true"`
	KeyFile           string        `yaml:"key_file" validate:"required_if=Enabled true"`
	CAFile            string        `yaml:"ca_file" validate:"required_if=RequireClientCert true"`
	RequireClientCert bool          `yaml:"require_client_cert"`
	Workers           int           `yaml:"workers" validate:"gt=0"`
	QueueSize         int           `yaml:"queue_size" validate:"gt=0"`
	MaxDatagramSize   int           `yaml:"max_datagram_size" validate:"gt=0,lte=65536"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	DrainTimeout      time.Duration `yaml:"drain_timeout" validate:"gt=0"`
}

// ProcessorConfig sizes the pool that parses TCP lines.
type ProcessorConfig struct {
	Workers   int `yaml:"workers" validate:"gt=0"`
	QueueSize int `yaml:"queue_size" validate:"gt=0"`
}

// ServerConfig configures the log-server.
type ServerConfig struct {
	HTTP       server.Config            `yaml:"http"`
	Sink       sink.Config              `yaml:"sink"`
	Limits     middleware.LimiterConfig `yaml:"limits"`
	Production bool                     `yaml:"production"`
}

// TUIConfig configures the terminal dashboard.
type TUIConfig struct {
	ServerURL    string        `yaml:"server_url" validate:"required,url"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=100ms"`
	LogLimit     int           `yaml:"log_limit" validate:"gt=0"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	collectorHTTP := server.DefaultConfig()
	collectorHTTP.Address = ":8081"

	return &Config{
		Logging: logging.Options{
			Level:  "info",
			Format: "json",
		},
		Collector: CollectorConfig{
			TCP: TCPConfig{
				Enabled:       true,
				Address:       ":9090",
				Workers:       20,
				QueueSize:     20,
				IdleTimeout:   5 * time.Minute,
				MaxLineLength: 65535,
				DrainTimeout:  30 * time.Second,
			},
			UDP: UDPConfig{
				Enabled:         true,
				Address:         ":9091",
				Workers:         15,
				QueueSize:       1500,
				ReadBufferSize:  4 * 1024 * 1024,
				MaxDatagramSize: 65536,
				DrainTimeout:    30 * time.Second,
			},
			DTLS: DTLSConfig{
				Address:          ":9093",
				Workers:          15,
				QueueSize:        1500,
				MaxDatagramSize:  65535,
				HandshakeTimeout: 30 * time.Second,
				IdleTimeout:      5 * time.Minute,
				DrainTimeout:     30 * time.Second,
			},
			Processor: ProcessorConfig{
				Workers:   30,
				QueueSize: 20000,
			},
			Forward:   forwarder.DefaultConfig(),
			HTTP:      collectorHTTP,
			Blacklist: append([]string(nil), catalog.DefaultBlacklist...),
		},
		Server: ServerConfig{
			HTTP:   server.DefaultConfig(),
			Sink:   sink.DefaultConfig(),
			Limits: middleware.DefaultLimiterConfig(),
		},
		TUI: TUIConfig{
			ServerURL:    "http://localhost:8080",
			PollInterval: 2 * time.Second,
			LogLimit:     50,
		},
	}
}

// Path returns flagValue if set, else $LOGPIPE_CONFIG, else the default
// location.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return "configs/logpipe.yaml"
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies LOGPIPE_* environment variables.
func (c *Config) applyEnvOverrides() error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("LOGPIPE_LOG_LEVEL", &c.Logging.Level)
	setString("LOGPIPE_LOG_FORMAT", &c.Logging.Format)

	setString("LOGPIPE_TCP_ADDR", &c.Collector.TCP.Address)
	setBool("LOGPIPE_TCP_ENABLED", &c.Collector.TCP.Enabled)
	setInt("LOGPIPE_TCP_WORKERS", &c.Collector.TCP.Workers)
	setString("LOGPIPE_UDP_ADDR", &c.Collector.UDP.Address)
	setBool("LOGPIPE_UDP_ENABLED", &c.Collector.UDP.Enabled)
	setInt("LOGPIPE_UDP_WORKERS", &c.Collector.UDP.Workers)
	setString("LOGPIPE_DTLS_ADDR", &c.Collector.DTLS.Address)
	setBool("LOGPIPE_DTLS_ENABLED", &c.Collector.DTLS.Enabled)
	setString("LOGPIPE_DTLS_CERT_FILE", &c.Collector.DTLS.CertFile)
	setString("LOGPIPE_DTLS_KEY_FILE", &c.Collector.DTLS.KeyFile)
	setString("LOGPIPE_COLLECTOR_HTTP_ADDR", &c.Collector.HTTP.Address)

	setString("LOGPIPE_FORWARD_TRANSPORT", &c.Collector.Forward.Transport)
	setString("LOGPIPE_FORWARD_URL", &c.Collector.Forward.URL)
	setInt("LOGPIPE_FORWARD_WORKERS", &c.Collector.Forward.Workers)
	if v := os.Getenv("LOGPIPE_KAFKA_BROKERS"); v != "" {
		c.Collector.Forward.Kafka.Brokers = splitAndTrim(v, ",")
	}
	setString("LOGPIPE_KAFKA_TOPIC", &c.Collector.Forward.Kafka.Topic)
	setString("LOGPIPE_KAFKA_SASL_USERNAME", &c.Collector.Forward.Kafka.SASLUsername)
	setString("LOGPIPE_KAFKA_SASL_PASSWORD", &c.Collector.Forward.Kafka.SASLPassword)
	setString("LOGPIPE_REDIS_ADDR", &c.Collector.Forward.Redis.Addr)
	setString("LOGPIPE_REDIS_PASSWORD", &c.Collector.Forward.Redis.Password)
	setString("LOGPIPE_REDIS_KEY", &c.Collector.Forward.Redis.Key)
	if v := os.Getenv("LOGPIPE_BLACKLIST"); v != "" {
		c.Collector.Blacklist = splitAndTrim(v, ",")
	}

	setString("LOGPIPE_SERVER_ADDR", &c.Server.HTTP.Address)
	setInt("LOGPIPE_SINK_CAPACITY", &c.Server.Sink.Capacity)
	setInt("LOGPIPE_MAX_IN_FLIGHT", &c.Server.Limits.MaxInFlight)
	setInt("LOGPIPE_MAX_PENDING", &c.Server.Limits.MaxPending)
	setBool("LOGPIPE_PRODUCTION", &c.Server.Production)

	setString("LOGPIPE_TUI_SERVER_URL", &c.TUI.ServerURL)

	return errors.Join(errs...)
}

// splitAndTrim splits s by sep, trims each part and drops empty ones.
func splitAndTrim(s, sep string) []string {
	var parts []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if !c.Collector.TCP.Enabled && !c.Collector.UDP.Enabled && !c.Collector.DTLS.Enabled {
		return errors.New("invalid config: at least one collector listener must be enabled")
	}

	fwd := c.Collector.Forward
	switch fwd.Transport {
	case forwarder.TransportHTTP:
		if fwd.URL == "" {
			return errors.New("invalid config: collector.forward.url is required for the http transport")
		}
	case forwarder.TransportKafka:
		if len(fwd.Kafka.Brokers) == 0 || fwd.Kafka.Topic == "" {
			return errors.New("invalid config: collector.forward.kafka needs brokers and a topic")
		}
	case forwarder.TransportRedis:
		if fwd.Redis.Addr == "" || fwd.Redis.Key == "" {
			return errors.New("invalid config: collector.forward.redis needs addr and key")
		}
	}

	return nil
}
