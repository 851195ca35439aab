// Package main is the entry point for the log collector: it receives wrapped
// syslog lines over TCP, UDP and optionally DTLS, classifies them and
// forwards the records to the log server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logpipe/internal/catalog"
	"logpipe/internal/collector"
	"logpipe/internal/config"
	"logpipe/internal/forwarder"
	"logpipe/internal/ingest"
	"logpipe/internal/logging"
	"logpipe/internal/metrics"
	"logpipe/internal/parser"
	"logpipe/internal/startup"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(config.Path(*configPath)); err != nil {
		slog.Error("log-collector failed", "error", err)
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

	cc := cfg.Collector
	logger.Info("configuration loaded",
		"config", path,
		"tcp_enabled", cc.TCP.Enabled,
		"tcp_address", cc.TCP.Address,
		"udp_enabled", cc.UDP.Enabled,
		"udp_address", cc.UDP.Address,
		"dtls_enabled", cc.DTLS.Enabled,
		"transport", cc.Forward.Transport,
		"blacklist", len(cc.Blacklist),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	diag := startup.NewDiagnostics(cfg, startup.RoleCollector, path, logger)
	diag.RunAll(ctx)
	if diag.HasErrors() {
		return errors.New("startup diagnostics failed")
	}

	reg := metrics.NewRegistry()

	sender, err := forwarder.NewSender(cc.Forward, logger)
	if err != nil {
		return fmt.Errorf("failed to create %s sender: %w", cc.Forward.Transport, err)
	}
	fwd := forwarder.New(sender, cc.Forward,
		forwarder.WithRegistry(reg),
		forwarder.WithLogger(logger),
	)
	if err := fwd.Start(ctx); err != nil {
		return fmt.Errorf("failed to start forwarder: %w", err)
	}

	proc := parser.NewProcessor(parser.New(catalog.New(cc.Blacklist)), fwd, logger)
	src := collector.Sources{Processor: proc, Forwarder: fwd, Registry: reg}

	var stops []func()
	stopListeners := func() {
		for _, stop := range stops {
			stop()
		}
	}

	if cc.TCP.Enabled {
		tcp := ingest.NewTCPServer(ingest.TCPServerConfig{
			Address:           cc.TCP.Address,
			TLSEnabled:        cc.TCP.TLSEnabled,
			TLSCertFile:       cc.TCP.TLSCertFile,
			TLSKeyFile:        cc.TCP.TLSKeyFile,
			Workers:           cc.TCP.Workers,
			QueueSize:         cc.TCP.QueueSize,
			DispatchWorkers:   cc.Processor.Workers,
			DispatchQueueSize: cc.Processor.QueueSize,
			IdleTimeout:       cc.TCP.IdleTimeout,
			MaxLineLength:     cc.TCP.MaxLineLength,
			DrainTimeout:      cc.TCP.DrainTimeout,
		}, proc.Process, ingest.WithRegistry(reg), ingest.WithLogger(logger))
		if err := tcp.Start(ctx); err != nil {
			fwd.Stop()
			return fmt.Errorf("failed to start tcp listener: %w", err)
		}
		src.TCP = tcp
		stops = append(stops, tcp.Stop)
	}

	if cc.UDP.Enabled {
		udp := ingest.NewUDPServer(ingest.UDPServerConfig{
			Address:         cc.UDP.Address,
			ReadBufferSize:  cc.UDP.ReadBufferSize,
			MaxDatagramSize: cc.UDP.MaxDatagramSize,
			Workers:         cc.UDP.Workers,
			QueueSize:       cc.UDP.QueueSize,
			DrainTimeout:    cc.UDP.DrainTimeout,
		}, proc.Process, ingest.WithRegistry(reg), ingest.WithLogger(logger))
		if err := udp.Start(ctx); err != nil {
			stopListeners()
			fwd.Stop()
			return fmt.Errorf("failed to start udp listener: %w", err)
		}
		src.UDP = udp
		stops = append(stops, udp.Stop)
	}

	if cc.DTLS.Enabled {
		dtlsServer, err := ingest.NewDTLSServer(ingest.DTLSServerConfig{
			Address:           cc.DTLS.Address,
			CertFile:          cc.DTLS.CertFile,
			KeyFile:           cc.DTLS.KeyFile,
			CAFile:            cc.DTLS.CAFile,
			RequireClientCert: cc.DTLS.RequireClientCert,
			Workers:           cc.DTLS.Workers,
			QueueSize:         cc.DTLS.QueueSize,
			MaxDatagramSize:   cc.DTLS.MaxDatagramSize,
			HandshakeTimeout:  cc.DTLS.HandshakeTimeout,
			IdleTimeout:       cc.DTLS.IdleTimeout,
			DrainTimeout:      cc.DTLS.DrainTimeout,
		}, proc.Process, ingest.WithRegistry(reg), ingest.WithLogger(logger))
		if err == nil {
			err = dtlsServer.Start(ctx)
		}
		if err != nil {
			stopListeners()
			fwd.Stop()
			return fmt.Errorf("failed to start dtls listener: %w", err)
		}
		src.DTLS = dtlsServer
		stops = append(stops, dtlsServer.Stop)
	}

	httpServer := &http.Server{
		Addr:              cc.HTTP.Address,
		Handler:           collector.Handler(src, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cc.HTTP.ReadTimeout,
		WriteTimeout:      cc.HTTP.WriteTimeout,
		IdleTimeout:       cc.HTTP.IdleTimeout,
	}
	go func() {
		logger.Info("starting collector http server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("collector http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cc.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("collector http shutdown error", "error", err)
	}

	// Listeners drain into the processor before the forwarder stops taking records.
	stopListeners()
	if err := fwd.Stop(); err != nil {
		logger.Error("forwarder shutdown error", "error", err)
	}

	snap := src.Snapshot()
	logger.Info("log-collector stopped",
		"processed", snap.TotalProcessed,
		"malformed", snap.Malformed,
		"empty", snap.Empty,
	)
	return nil
}
