// Package startup runs preflight diagnostics before a logpipe daemon binds
// its sockets.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"runtime"
	"time"

	"logpipe/internal/config"
	"logpipe/internal/forwarder"
)

// DialTimeout bounds the reachability probe of the forward target.
const DialTimeout = 3 * time.Second

// Role selects which checks apply.
type Role string

const (
	RoleCollector Role = "log-collector"
	RoleServer    Role = "log-server"
)

// DiagnosticResult is the outcome of one named check. Details carry the
// inputs worth logging, such as addresses and file paths.
type DiagnosticResult struct {
	Name    string
	Status  Status
	Message string
	Details map[string]string
}

// Status grades a check. Only StatusError blocks startup.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusError:
		return "ERROR"
	case StatusSkipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// Diagnostics runs the preflight checks for one role.
type Diagnostics struct {
	cfg        *config.Config
	role       Role
	configPath string
	results    []DiagnosticResult
	logger     *slog.Logger
}

// NewDiagnostics creates a diagnostics runner. configPath is the file the
// configuration was loaded from.
func NewDiagnostics(cfg *config.Config, role Role, configPath string, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnostics{
		cfg:        cfg,
		role:       role,
		configPath: configPath,
		logger:     logger,
	}
}

// RunAll runs every check for the role and returns the results.
func (d *Diagnostics) RunAll(ctx context.Context) []DiagnosticResult {
	d.logger.Info("running startup diagnostics", "role", string(d.role))

	d.checkRuntime()
	d.checkConfiguration()

	switch d.role {
	case RoleCollector:
		cc := d.cfg.Collector
		d.checkPort("tcp_listener", "tcp", cc.TCP.Address, cc.TCP.Enabled)
		d.checkPort("udp_listener", "udp", cc.UDP.Address, cc.UDP.Enabled)
		d.checkPort("dtls_listener", "udp", cc.DTLS.Address, cc.DTLS.Enabled)
		d.checkPort("collector_http", "tcp", cc.HTTP.Address, true)
		d.checkTLS()
		d.checkDTLS()
		d.checkForwardTarget(ctx)
	case RoleServer:
		d.checkPort("server_http", "tcp", d.cfg.Server.HTTP.Address, true)
		d.checkProduction()
	}

	d.logSummary()
	return d.results
}

// Results returns the results of the last run.
func (d *Diagnostics) Results() []DiagnosticResult {
	return d.results
}

func (d *Diagnostics) addResult(result DiagnosticResult) {
	d.results = append(d.results, result)

	attrs := []any{
		"check", result.Name,
		"status", result.Status.String(),
	}
	if result.Message != "" {
		attrs = append(attrs, "message", result.Message)
	}
	for k, v := range result.Details {
		attrs = append(attrs, k, v)
	}

	switch result.Status {
	case StatusOK:
		d.logger.Info("preflight check ok", attrs...)
	case StatusWarning:
		d.logger.Warn("preflight check warning", attrs...)
	case StatusError:
		d.logger.Error("preflight check failed", attrs...)
	default:
		d.logger.Debug("preflight check skipped", attrs...)
	}
}

func (d *Diagnostics) checkRuntime() {
	d.addResult(DiagnosticResult{
		Name:    "runtime",
		Status:  StatusOK,
		Message: "Go runtime detected",
		Details: map[string]string{
			"go_version": runtime.Version(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"cpus":       fmt.Sprintf("%d", runtime.NumCPU()),
		},
	})
}

func (d *Diagnostics) checkConfiguration() {
	if _, err := os.Stat(d.configPath); os.IsNotExist(err) {
		d.addResult(DiagnosticResult{
			Name:    "config_file",
			Status:  StatusWarning,
			Message: "Config file not found, using defaults",
			Details: map[string]string{"path": d.configPath},
		})
	} else {
		d.addResult(DiagnosticResult{
			Name:    "config_file",
			Status:  StatusOK,
			Message: "Config file found",
			Details: map[string]string{"path": d.configPath},
		})
	}

	if err := d.cfg.Validate(); err != nil {
		d.addResult(DiagnosticResult{
			Name:    "config_validation",
			Status:  StatusError,
			Message: fmt.Sprintf("Configuration validation failed: %s", err),
		})
		return
	}
	d.addResult(DiagnosticResult{
		Name:    "config_validation",
		Status:  StatusOK,
		Message: "Configuration is valid",
	})
}

// checkPort binds addr briefly to confirm it is free.
func (d *Diagnostics) checkPort(name, network, addr string, enabled bool) {
	if !enabled {
		d.addResult(DiagnosticResult{
			Name:    name,
			Status:  StatusSkipped,
			Message: "Listener disabled",
		})
		return
	}

	var closeFn func() error
	var err error
	if network == "udp" {
		var pc net.PacketConn
		pc, err = net.ListenPacket("udp", addr)
		if err == nil {
			closeFn = pc.Close
		}
	} else {
		var ln net.Listener
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			closeFn = ln.Close
		}
	}

	details := map[string]string{"address": addr, "network": network}
	if err != nil {
		d.addResult(DiagnosticResult{
			Name:    name,
			Status:  StatusError,
			Message: fmt.Sprintf("Address is not available: %s", err),
			Details: details,
		})
		return
	}
	closeFn()
	d.addResult(DiagnosticResult{
		Name:    name,
		Status:  StatusOK,
		Message: "Address is available",
		Details: details,
	})
}

func (d *Diagnostics) checkTLS() {
	tcp := d.cfg.Collector.TCP
	if !tcp.Enabled {
		return
	}
	if !tcp.TLSEnabled {
		d.addResult(DiagnosticResult{
			Name:    "tcp_tls",
			Status:  StatusWarning,
			Message: "TCP listener is running WITHOUT TLS",
			Details: map[string]string{"recommendation": "Set collector.tcp.tls_enabled and configure certificates"},
		})
		return
	}
	if !fileExists(tcp.TLSCertFile) || !fileExists(tcp.TLSKeyFile) {
		d.addResult(DiagnosticResult{
			Name:    "tcp_tls",
			Status:  StatusError,
			Message: "TLS enabled but certificate files missing",
			Details: map[string]string{
				"cert_file": tcp.TLSCertFile,
				"key_file":  tcp.TLSKeyFile,
			},
		})
		return
	}
	d.addResult(DiagnosticResult{
		Name:    "tcp_tls",
		Status:  StatusOK,
		Message: "TCP TLS is configured",
	})
}

// checkForwardTarget dials the first forward endpoint. An unreachable target
// is a warning: the forwarder retries every record.
func (d *Diagnostics) checkDTLS() {
	dc := d.cfg.Collector.DTLS
	if !dc.Enabled {
		return
	}

	missing := map[string]string{}
	if !fileExists(dc.CertFile) {
		missing["cert_file"] = dc.CertFile
	}
	if !fileExists(dc.KeyFile) {
		missing["key_file"] = dc.KeyFile
	}
	if dc.RequireClientCert && !fileExists(dc.CAFile) {
		missing["ca_file"] = dc.CAFile
	}
	if len(missing) > 0 {
		d.addResult(DiagnosticResult{
			Name:    "dtls_certificates",
			Status:  StatusError,
			Message: "DTLS enabled but certificate files missing",
			Details: missing,
		})
		return
	}
	d.addResult(DiagnosticResult{
		Name:    "dtls_certificates",
		Status:  StatusOK,
		Message: "DTLS certificates found",
		Details: map[string]string{"mutual_tls": fmt.Sprintf("%t", dc.RequireClientCert)},
	})
}

func (d *Diagnostics) checkForwardTarget(ctx context.Context) {
	fc := d.cfg.Collector.Forward
	host, err := forwardHost(fc)
	if err != nil {
		d.addResult(DiagnosticResult{
			Name:    "forward_target",
			Status:  StatusError,
			Message: err.Error(),
			Details: map[string]string{"transport": fc.Transport},
		})
		return
	}

	details := map[string]string{"transport": fc.Transport, "host": host}
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		d.addResult(DiagnosticResult{
			Name:    "forward_target",
			Status:  StatusWarning,
			Message: fmt.Sprintf("Forward target not reachable: %s", err),
			Details: details,
		})
		return
	}
	conn.Close()
	d.addResult(DiagnosticResult{
		Name:    "forward_target",
		Status:  StatusOK,
		Message: "Forward target is reachable",
		Details: details,
	})
}

func forwardHost(fc forwarder.Config) (string, error) {
	switch fc.Transport {
	case forwarder.TransportHTTP:
		u, err := url.Parse(fc.URL)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("invalid forward url %q", fc.URL)
		}
		if u.Port() != "" {
			return u.Host, nil
		}
		if u.Scheme == "https" {
			return net.JoinHostPort(u.Hostname(), "443"), nil
		}
		return net.JoinHostPort(u.Hostname(), "80"), nil
	case forwarder.TransportKafka:
		if len(fc.Kafka.Brokers) == 0 {
			return "", fmt.Errorf("no kafka brokers configured")
		}
		return fc.Kafka.Brokers[0], nil
	case forwarder.TransportRedis:
		if fc.Redis.Addr == "" {
			return "", fmt.Errorf("no redis address configured")
		}
		return fc.Redis.Addr, nil
	}
	return "", fmt.Errorf("%w: %q", forwarder.ErrUnknownTransport, fc.Transport)
}

func (d *Diagnostics) checkProduction() {
	if !d.cfg.Server.Production {
		d.addResult(DiagnosticResult{
			Name:    "production_mode",
			Status:  StatusWarning,
			Message: "Production mode is DISABLED - internal error details reach clients",
			Details: map[string]string{"recommendation": "Set server.production=true"},
		})
		return
	}
	d.addResult(DiagnosticResult{
		Name:    "production_mode",
		Status:  StatusOK,
		Message: "Production mode is enabled",
	})
}

func (d *Diagnostics) logSummary() {
	counts := make(map[Status]int, 4)
	for _, r := range d.results {
		counts[r.Status]++
	}

	d.logger.Info("diagnostics summary",
		"role", string(d.role),
		"passed", counts[StatusOK],
		"warnings", counts[StatusWarning],
		"errors", counts[StatusError],
		"skipped", counts[StatusSkipped],
	)

	switch {
	case counts[StatusError] > 0:
		d.logger.Error("preflight failed, refusing to start", "role", string(d.role))
	case counts[StatusWarning] > 0:
		d.logger.Warn("preflight passed with warnings", "role", string(d.role))
	}
}

// HasErrors reports whether any check failed.
func (d *Diagnostics) HasErrors() bool { return d.has(StatusError) }

// HasWarnings reports whether any check warned.
func (d *Diagnostics) HasWarnings() bool { return d.has(StatusWarning) }

func (d *Diagnostics) has(status Status) bool {
	for _, r := range d.results {
		if r.Status == status {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
