// Package transport builds the outbound HTTP clients lakekeeperd uses to
// reach backend services, currently the OpenFGA authorization endpoint.
// Clients are plain HTTP by default and switch to TLS, optionally with a
// client keypair, when certificate paths are configured.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// DefaultTimeout bounds every request made through a client from this
// package.
const DefaultTimeout = 10 * time.Second

// TLSConfig holds certificate paths for an outbound client. An empty
// CACertFile means the client speaks plain HTTP.
type TLSConfig struct {
	// CACertFile enables TLS and pins the server's CA.
	CACertFile string
	// CertFile and KeyFile form the client keypair for mTLS. Both must be
	// set together.
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool { return c.CACertFile != "" }

// NewClient returns an HTTP client for the given TLS settings. Without a CA
// certificate the client is a plain one with the default timeout. With one,
// the transport verifies the server against that CA only and negotiates
// HTTP/2.
func NewClient(cfg TLSConfig) (*http.Client, error) {
	if !cfg.enabled() {
		return &http.Client{Timeout: DefaultTimeout}, nil
	}

	caPEM, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate %s: %w", cfg.CACertFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.CACertFile)
	}

	tlsCfg := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, fmt.Errorf("client certificate and key must both be set")
		}
		pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client keypair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{pair}
	}

	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &http2.Transport{TLSClientConfig: tlsCfg},
	}, nil
}
