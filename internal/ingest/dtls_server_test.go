package ingest

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/dtls/v2"
)

// writeSelfSigned writes a throwaway certificate pair for 127.0.0.1.
func writeSelfSigned(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "logpipe-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestDefaultDTLSServerConfig(t *testing.T) {
	cfg := DefaultDTLSServerConfig()
	if cfg.Address != ":9093" {
		t.Errorf("Address = %q, want :9093", cfg.Address)
	}
	if cfg.Workers <= 0 || cfg.QueueSize <= 0 {
		t.Errorf("pool sizes must be positive: %d/%d", cfg.Workers, cfg.QueueSize)
	}
	if cfg.HandshakeTimeout != 30*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 30s", cfg.HandshakeTimeout)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout = %v, want 5m", cfg.IdleTimeout)
	}
}

func TestNewDTLSServer_RequiresCertificate(t *testing.T) {
	_, err := NewDTLSServer(DefaultDTLSServerConfig(), (&collector{}).handle)
	if !errors.Is(err, ErrDTLSCertRequired) {
		t.Errorf("expected ErrDTLSCertRequired, got %v", err)
	}
}

func TestNewDTLSServer_MutualTLSRequiresCA(t *testing.T) {
	cfg := DefaultDTLSServerConfig()
	cfg.CertFile = "cert.pem"
	cfg.KeyFile = "key.pem"
	cfg.RequireClientCert = true

	_, err := NewDTLSServer(cfg, (&collector{}).handle)
	if !errors.Is(err, ErrDTLSClientCertRequired) {
		t.Errorf("expected ErrDTLSClientCertRequired, got %v", err)
	}
}

func TestDTLSServer_BadCertificateFailsStart(t *testing.T) {
	cfg := DefaultDTLSServerConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.CertFile = filepath.Join(t.TempDir(), "missing.pem")
	cfg.KeyFile = cfg.CertFile

	srv, err := NewDTLSServer(cfg, (&collector{}).handle)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail with missing certificate")
	}
	srv.Stop()
}

func TestDTLSServer_ReceivesPayloads(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)

	c := &collector{}
	cfg := DefaultDTLSServerConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.CertFile = certFile
	cfg.KeyFile = keyFile
	cfg.HandshakeTimeout = 5 * time.Second
	cfg.DrainTimeout = 2 * time.Second

	srv, err := NewDTLSServer(cfg, c.handle)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Stop()

	if err := srv.Start(ctx); !errors.Is(err, ErrServerStarted) {
		t.Errorf("second Start() = %v, want ErrServerStarted", err)
	}

	raddr := srv.Addr().(*net.UDPAddr)
	conn, err := dtls.Dial("udp", raddr, &dtls.Config{
		InsecureSkipVerify:   true,
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	})
	if err != nil {
		t.Fatalf("dtls.Dial() error: %v", err)
	}
	defer conn.Close()

	for _, p := range []string{`{"message":"one"}`, "   ", `{"message":"two"}`} {
		if _, err := conn.Write([]byte(p)); err != nil {
			t.Fatalf("Write() error: %v", err)
		}
	}

	if !waitForCondition(3*time.Second, func() bool {
		return c.count() == 2 && srv.Metrics().Dispatched == 2
	}) {
		t.Fatalf("received %d payloads, want 2", c.count())
	}

	m := srv.Metrics()
	if m.Connections != 1 {
		t.Errorf("Connections = %d, want 1", m.Connections)
	}
	if m.Received != 2 || m.Dispatched != 2 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestDTLSServer_StopBeforeStart(t *testing.T) {
	cfg := DefaultDTLSServerConfig()
	cfg.CertFile = "cert.pem"
	cfg.KeyFile = "key.pem"
	srv, err := NewDTLSServer(cfg, (&collector{}).handle)
	if err != nil {
		t.Fatal(err)
	}
	srv.Stop()
	srv.Stop()
	if err := srv.Start(context.Background()); !errors.Is(err, ErrServerStopped) {
		t.Errorf("Start after Stop = %v, want ErrServerStopped", err)
	}
}
