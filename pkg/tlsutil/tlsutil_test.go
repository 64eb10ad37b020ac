package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/pkg/security"
)

type testCert struct {
	cert     *x509.Certificate
	key      *ecdsa.PrivateKey
	certFile string
	keyFile  string
}

// issue creates a certificate signed by parent, or self-signed when parent is nil
func issue(t *testing.T, dir, cn string, isCA bool, parent *testCert) *testCert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"framerelay test"}, CommonName: cn},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	if isCA {
		template.IsCA = true
		template.KeyUsage |= x509.KeyUsageCertSign
	}

	signer, signerKey := template, key
	if parent != nil {
		signer, signerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, signer, &key.PublicKey, signerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	tc := &testCert{
		cert:     cert,
		key:      key,
		certFile: filepath.Join(dir, cn+".pem"),
		keyFile:  filepath.Join(dir, cn+"-key.pem"),
	}
	require.NoError(t, os.WriteFile(tc.certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	require.NoError(t, os.WriteFile(tc.keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return tc
}

func TestLoadServerTLSConfig(t *testing.T) {
	dir := t.TempDir()
	server := issue(t, dir, "localhost", false, nil)

	tests := []struct {
		name    string
		cfg     security.ServerTLSConfig
		wantNil bool
		wantErr bool
		check   func(t *testing.T, c *tls.Config)
	}{
		{
			name:    "disabled",
			cfg:     security.ServerTLSConfig{Enabled: false},
			wantNil: true,
		},
		{
			name: "default min version",
			cfg:  security.ServerTLSConfig{Enabled: true, CertFile: server.certFile, KeyFile: server.keyFile},
			check: func(t *testing.T, c *tls.Config) {
				assert.Len(t, c.Certificates, 1)
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.Equal(t, tls.NoClientCert, c.ClientAuth)
			},
		},
		{
			name: "tls 1.3",
			cfg:  security.ServerTLSConfig{Enabled: true, CertFile: server.certFile, KeyFile: server.keyFile, MinVersion: "1.3"},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
			},
		},
		{
			name: "optional client certs",
			cfg: security.ServerTLSConfig{
				Enabled: true, CertFile: server.certFile, KeyFile: server.keyFile,
				ClientCAFiles: []string{server.certFile},
			},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, tls.VerifyClientCertIfGiven, c.ClientAuth)
				assert.NotNil(t, c.ClientCAs)
				assert.Nil(t, c.VerifyPeerCertificate)
			},
		},
		{
			name: "required client certs with CN whitelist",
			cfg: security.ServerTLSConfig{
				Enabled: true, CertFile: server.certFile, KeyFile: server.keyFile,
				ClientCAFiles: []string{server.certFile}, RequireClientCert: true,
				AllowedClientCNs: []string{"viewer"},
			},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, tls.RequireAndVerifyClientCert, c.ClientAuth)
				assert.NotNil(t, c.VerifyPeerCertificate)
			},
		},
		{
			name:    "missing cert",
			cfg:     security.ServerTLSConfig{Enabled: true, CertFile: filepath.Join(dir, "nope.pem"), KeyFile: server.keyFile},
			wantErr: true,
		},
		{
			name: "missing client CA",
			cfg: security.ServerTLSConfig{
				Enabled: true, CertFile: server.certFile, KeyFile: server.keyFile,
				ClientCAFiles: []string{filepath.Join(dir, "nope.pem")},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadServerTLSConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			tt.check(t, c)
		})
	}
}

func TestLoadClientTLSConfig(t *testing.T) {
	dir := t.TempDir()
	ca := issue(t, dir, "ca", true, nil)
	client := issue(t, dir, "client", false, ca)

	c, err := LoadClientTLSConfig(security.ClientTLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CAFiles: []string{ca.certFile}})
	require.NoError(t, err)
	require.NotNil(t, c.RootCAs)
	assert.Empty(t, c.Certificates)
	assert.False(t, c.InsecureSkipVerify)

	c, err = LoadClientTLSConfig(security.ClientTLSConfig{
		Enabled: true, CertFile: client.certFile, KeyFile: client.keyFile,
		InsecureSkipVerify: true, MinVersion: "1.3",
	})
	require.NoError(t, err)
	assert.Len(t, c.Certificates, 1)
	assert.True(t, c.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o644))
	_, err = LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CAFiles: []string{bad}})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "invalid PEM data")

	_, err = LoadClientTLSConfig(security.ClientTLSConfig{Enabled: true, CertFile: bad, KeyFile: bad})
	assert.Error(t, err)
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}

func TestVerifyAllowedClientCN(t *testing.T) {
	leaf := &x509.Certificate{Subject: pkix.Name{CommonName: "viewer"}}

	assert.NoError(t, verifyAllowedClientCN([][]*x509.Certificate{{leaf}}, []string{"other", "viewer"}))

	err := verifyAllowedClientCN([][]*x509.Certificate{{leaf}}, []string{"other"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'viewer' not in allowed list")

	assert.Error(t, verifyAllowedClientCN(nil, []string{"viewer"}))
}

// handshake runs one TLS handshake between the two configs over loopback
func handshake(t *testing.T, serverCfg, clientCfg *tls.Config) error {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()

	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()
		if err := conn.(*tls.Conn).Handshake(); err != nil {
			serverErr <- err
			return
		}
		_, err = conn.Write([]byte("ok"))
		serverErr <- err
	}()

	clientCfg = clientCfg.Clone()
	clientCfg.ServerName = "localhost"
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		<-serverErr
		return err
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil {
		<-serverErr
		return err
	}
	return <-serverErr
}

func TestMutualTLSHandshake(t *testing.T) {
	dir := t.TempDir()
	ca := issue(t, dir, "ca", true, nil)
	server := issue(t, dir, "localhost", false, ca)
	viewer := issue(t, dir, "viewer", false, ca)
	intruder := issue(t, dir, "intruder", false, ca)

	serverCfg, err := LoadServerTLSConfig(security.ServerTLSConfig{
		Enabled: true, CertFile: server.certFile, KeyFile: server.keyFile,
		ClientCAFiles: []string{ca.certFile}, RequireClientCert: true,
		AllowedClientCNs: []string{"viewer"},
	})
	require.NoError(t, err)

	clientFor := func(c *testCert) *tls.Config {
		cfg := security.ClientTLSConfig{Enabled: true, CAFiles: []string{ca.certFile}}
		if c != nil {
			cfg.CertFile, cfg.KeyFile = c.certFile, c.keyFile
		}
		out, err := LoadClientTLSConfig(cfg)
		require.NoError(t, err)
		return out
	}

	assert.NoError(t, handshake(t, serverCfg, clientFor(viewer)))
	assert.Error(t, handshake(t, serverCfg, clientFor(intruder)))
	assert.Error(t, handshake(t, serverCfg, clientFor(nil)))
}

func TestServerTLSConfig_Validate(t *testing.T) {
	assert.NoError(t, security.ServerTLSConfig{}.Validate())
	assert.Error(t, security.ServerTLSConfig{Enabled: true}.Validate())
	assert.Error(t, security.ServerTLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.1"}.Validate())
	assert.Error(t, security.ServerTLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", RequireClientCert: true}.Validate())
	assert.NoError(t, security.ServerTLSConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.3"}.Validate())

	assert.NoError(t, security.ClientTLSConfig{Enabled: true}.Validate())
	assert.Error(t, security.ClientTLSConfig{Enabled: true, CertFile: "c"}.Validate())
}
