// Package tlsutil builds crypto/tls configurations from security config.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/pkg/security"
)

// LoadServerTLSConfig creates a tls.Config for the HTTP/WebSocket listener.
// It returns nil when TLS is disabled.
func LoadServerTLSConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if len(cfg.ClientCAFiles) == 0 {
		return tlsConfig, nil
	}

	clientCAs := x509.NewCertPool()
	if err := appendCAFiles(clientCAs, cfg.ClientCAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load client CAs")
	}
	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := append([]string(nil), cfg.AllowedClientCNs...)
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			if len(verifiedChains) == 0 && !cfg.RequireClientCert {
				return nil
			}
			return verifyAllowedClientCN(verifiedChains, allowed)
		}
	}

	return tlsConfig, nil
}

// LoadClientTLSConfig creates a tls.Config for outbound connections.
// It returns nil when TLS is disabled.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendCAFiles(rootCAs, cfg.CAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load CAs")
	}

	tlsConfig := &tls.Config{
		RootCAs:    rootCAs,
		MinVersion: parseTLSVersion(cfg.MinVersion),
		// Operator opt-in for development setups.
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
	}

	if cfg.CertFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	return tlsConfig, nil
}

func appendCAFiles(pool *x509.CertPool, files []string) error {
	for _, caFile := range files {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("read CA file %s: %w", caFile, err)
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return fmt.Errorf("parse CA certificate from %s: invalid PEM data", caFile)
		}
	}
	return nil
}

// verifyAllowedClientCN checks the leaf certificate CN against the whitelist
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	leafCert := chains[0][0]
	for _, allowedCN := range allowedCNs {
		if leafCert.Subject.CommonName == allowedCN {
			return nil
		}
	}

	return fmt.Errorf("client certificate CN '%s' not in allowed list", leafCert.Subject.CommonName)
}

// parseTLSVersion converts version string to crypto/tls constant.
// Returns tls.VersionTLS12 if empty or invalid.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
