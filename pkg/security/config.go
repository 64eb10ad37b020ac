// Package security holds the TLS configuration types shared by the HTTP
// listener and the NATS client.
package security

import "fmt"

// ServerTLSConfig holds TLS configuration for the HTTP/WebSocket listener
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" or "1.3"

	// Client certificate validation (mTLS)
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"` // true = require, false = optional
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`
}

// ClientTLSConfig holds TLS configuration for outbound connections.
// The system CA bundle is always trusted; CAFiles are additional roots.
type ClientTLSConfig struct {
	Enabled            bool     `json:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty"`

	// Client certificate presented to the server (mTLS)
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Validate checks field combinations without touching the filesystem
func (c ServerTLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return fmt.Errorf("cert_file and key_file are required when tls is enabled")
	}
	if !validMinVersion(c.MinVersion) {
		return fmt.Errorf("min_version %q must be 1.2 or 1.3", c.MinVersion)
	}
	if (c.RequireClientCert || len(c.AllowedClientCNs) > 0) && len(c.ClientCAFiles) == 0 {
		return fmt.Errorf("client_ca_files is required to verify client certificates")
	}
	return nil
}

// Validate checks field combinations without touching the filesystem
func (c ClientTLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	if !validMinVersion(c.MinVersion) {
		return fmt.Errorf("min_version %q must be 1.2 or 1.3", c.MinVersion)
	}
	return nil
}

func validMinVersion(v string) bool {
	return v == "" || v == "1.2" || v == "1.3"
}
