package forwarder

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"logpipe/internal/retry"
	"logpipe/internal/schema"
)

// RedisConfig configures the Redis transport.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	Key          string        `yaml:"key"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size" validate:"gte=0"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// DefaultRedisConfig returns the default Redis transport configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Key:          "logpipe:records",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     16,
	}
}

// RedisSender pushes each record onto the tail of a Redis list.
type RedisSender struct {
	client *redis.Client
	key    string
}

// NewRedisSender creates a Redis sender. The connection is established
// lazily on the first Send.
func NewRedisSender(cfg RedisConfig) (*RedisSender, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("redis: list key is required")
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   -1,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	return &RedisSender{client: client, key: cfg.Key}, nil
}

// Send appends rec to the list.
func (s *RedisSender) Send(ctx context.Context, rec schema.Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("marshal record: %w", err))
	}
	if err := s.client.RPush(ctx, s.key, value).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client.
func (s *RedisSender) Close() error {
	return s.client.Close()
}
