// Package main is the entry point for the logpipe terminal dashboard.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"logpipe/internal/config"
	"logpipe/internal/logging"
	"logpipe/internal/tui"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	serverURL := flag.String("server", "", "log server base URL (overrides config)")
	logFile := flag.String("log-file", "", "write logs to this file instead of discarding them")
	flag.Parse()

	if err := run(config.Path(*configPath), *serverURL, *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "logpipe-tui: %v\n", err)
		os.Exit(1)
	}
}

func run(path, serverURL, logFile string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serverURL != "" {
		cfg.TUI.ServerURL = serverURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// The alt screen owns stdout, so logs go to a file or nowhere.
	var w io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		w = f
	}
	logger, err := logging.New(w, cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)

	logger.Info("starting dashboard",
		"server", cfg.TUI.ServerURL,
		"poll_interval", cfg.TUI.PollInterval,
		"log_limit", cfg.TUI.LogLimit,
	)

	return tui.Run(tui.Config{
		ServerURL:    cfg.TUI.ServerURL,
		PollInterval: cfg.TUI.PollInterval,
		LogLimit:     cfg.TUI.LogLimit,
	})
}
