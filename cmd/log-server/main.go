// Package main is the entry point for the log server: it accepts records from
// collectors over HTTP, buffers them through the sink and serves queries and
// metrics from the in-memory store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"logpipe/internal/config"
	apperrors "logpipe/internal/errors"
	"logpipe/internal/logging"
	"logpipe/internal/metrics"
	"logpipe/internal/middleware"
	"logpipe/internal/server"
	"logpipe/internal/sink"
	"logpipe/internal/startup"
	"logpipe/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(config.Path(*configPath)); err != nil {
		slog.Error("log-server failed", "error", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	sc := cfg.Server
	apperrors.SetProductionMode(sc.Production)
	logger.Info("configuration loaded",
		"config", path,
		"address", sc.HTTP.Address,
		"sink_capacity", sc.Sink.Capacity,
		"max_in_flight", sc.Limits.MaxInFlight,
		"max_pending", sc.Limits.MaxPending,
		"production", sc.Production,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	diag := startup.NewDiagnostics(cfg, startup.RoleServer, path, logger)
	diag.RunAll(ctx)
	if diag.HasErrors() {
		return errors.New("startup diagnostics failed")
	}

	reg := metrics.NewRegistry()
	store := storage.NewMemoryStore(reg.Pipeline)

	sk := sink.New(store, sc.Sink,
		sink.WithPipeline(reg.Pipeline),
		sink.WithLogger(logger),
	)
	sk.Start(ctx)

	limiter := middleware.NewConcurrencyLimiter(sc.Limits, logger)
	if err := limiter.RegisterMetrics(reg, "logpipe_http"); err != nil {
		sk.Stop()
		return fmt.Errorf("failed to register limiter metrics: %w", err)
	}

	srv := server.New(sc.HTTP, sk, store,
		server.WithRegistry(reg),
		server.WithLogger(logger),
		server.WithLimiter(limiter),
	)
	if err := srv.Start(); err != nil {
		sk.Stop()
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// The sink drains buffered records into the store before exiting.
	sk.Stop()

	m := store.Metrics()
	sm := sk.Metrics()
	logger.Info("log-server stopped",
		"stored", store.Len(),
		"received", m.TotalProcessed,
		"overflowed", sm.Overflowed,
	)
	return nil
}
