package http

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framerelay/broadcast"
	"github.com/c360/framerelay/component"
	"github.com/c360/framerelay/config"
	"github.com/c360/framerelay/diagnostic"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/health"
	"github.com/c360/framerelay/metric"
	wsout "github.com/c360/framerelay/output/websocket"
	"github.com/c360/framerelay/pkg/security"
	"github.com/c360/framerelay/processor/parser"
)

type fakeHealth map[string]component.HealthStatus

func (f fakeHealth) Health() map[string]component.HealthStatus { return f }

func testConfig() config.HTTPConfig {
	cfg := config.Default().HTTP
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

func newGateway(t *testing.T, cfg config.HTTPConfig, routes Routes) (*Gateway, *metric.MetricsRegistry) {
	t.Helper()
	reg := metric.NewMetricsRegistry()
	g, err := NewGateway(cfg, routes, component.Dependencies{MetricsRegistry: reg})
	require.NoError(t, err)
	return g, reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGateway_EmbeddedIndex(t *testing.T) {
	cfg := testConfig()
	cfg.IndexFile = ""
	g, _ := newGateway(t, cfg, Routes{})

	rec := get(t, g.Handler(), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<title>framerelay</title>")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGateway_IndexFromStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "viewer.html"), []byte("<p>custom viewer</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	cfg := testConfig()
	cfg.StaticDir = dir
	cfg.IndexFile = "viewer.html"
	g, _ := newGateway(t, cfg, Routes{})

	rec := get(t, g.Handler(), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>custom viewer</p>", rec.Body.String())

	rec = get(t, g.Handler(), "/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = get(t, g.Handler(), "/missing.css")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_MissingCustomIndex(t *testing.T) {
	cfg := testConfig()
	cfg.StaticDir = t.TempDir()
	cfg.IndexFile = "viewer.html"
	g, _ := newGateway(t, cfg, Routes{})

	rec := get(t, g.Handler(), "/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "index not found")
}

func TestGateway_RequestIDPropagated(t *testing.T) {
	g, _ := newGateway(t, testConfig(), Routes{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestGateway_Health(t *testing.T) {
	reports := fakeHealth{
		"worker":           {Healthy: true},
		"websocket-output": {Healthy: true},
	}
	g, _ := newGateway(t, testConfig(), Routes{Health: reports})

	rec := get(t, g.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, SystemName, status.Component)
	assert.True(t, status.IsHealthy())
	require.Len(t, status.SubStatuses, 2)
	assert.Equal(t, "websocket-output", status.SubStatuses[0].Component)
	assert.Equal(t, "worker", status.SubStatuses[1].Component)

	reports["worker"] = component.HealthStatus{Degraded: true}
	rec = get(t, g.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.IsDegraded())

	reports["worker"] = component.HealthStatus{LastError: "worker exited"}
	rec = get(t, g.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.IsUnhealthy())
}

func TestGateway_Diagnostics(t *testing.T) {
	recent := diagnostic.NewRecentSink(2)
	g, _ := newGateway(t, testConfig(), Routes{Diagnostics: recent})

	rec := get(t, g.Handler(), "/diagnostics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":[],"evicted":0}`, rec.Body.String())

	recent.Log("worker", "loading model")
	recent.Error(diagnostic.ContextDecode, "bad payload")
	recent.Error(diagnostic.ContextStderr, "Traceback")

	rec = get(t, g.Handler(), "/diagnostics")
	var resp diagnosticsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Evicted)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, diagnostic.ContextDecode, resp.Entries[0].Source)
	assert.Equal(t, "Traceback", resp.Entries[1].Text)
}

func TestGateway_MetricsRoute(t *testing.T) {
	g, reg := newGateway(t, testConfig(), Routes{})

	get(t, g.Handler(), "/")
	rec := get(t, g.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `framerelay_http_requests_total{code="200",route="index"} 1`)

	assert.Equal(t, float64(1), promtest.ToFloat64(g.requests.WithLabelValues("index", "200")))
	_, err := NewGateway(testConfig(), Routes{}, component.Dependencies{MetricsRegistry: reg})
	assert.Error(t, err, "duplicate registration")
}

func TestGateway_UnmountedRoutes(t *testing.T) {
	g, err := NewGateway(testConfig(), Routes{}, component.Dependencies{})
	require.NoError(t, err)

	for _, path := range []string{"/metrics", "/health", "/diagnostics", "/ws"} {
		assert.Equal(t, http.StatusNotFound, get(t, g.Handler(), path).Code, path)
	}

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGateway_WebSocketThroughRecorder(t *testing.T) {
	hub := broadcast.NewHub(broadcast.Config{Topic: "video_frame"})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	out, err := wsout.NewOutput(wsout.DefaultConfig(), hub, component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	t.Cleanup(func() { _ = out.Stop(time.Second) })

	g, _ := newGateway(t, testConfig(), Routes{WebSocket: out})
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(parser.Event{Raw: json.RawMessage(`{"x":1}`), Seq: 1, ReceivedAt: time.Now()})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env wsout.MessageEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.JSONEq(t, `{"x":1}`, string(env.Payload))
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestGateway_Lifecycle(t *testing.T) {
	g, _ := newGateway(t, testConfig(), Routes{Health: fakeHealth{}})
	assert.Equal(t, "", g.Addr())
	assert.False(t, g.Health().Healthy)

	require.NoError(t, g.Start(context.Background()))
	addr := g.Addr()
	require.NotEmpty(t, addr)

	err := g.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	assert.True(t, g.Health().Healthy)
	assert.Equal(t, "gateway", g.Meta().Type)
	assert.Greater(t, g.DataFlow().MessagesPerSecond, float64(0))

	require.NoError(t, g.Stop(time.Second))
	require.NoError(t, g.Wait(context.Background()))
	assert.False(t, g.Health().Healthy)
	assert.NoError(t, g.Stop(time.Second))

	_, err = http.Get("http://" + addr + "/health")
	assert.Error(t, err)
}

func TestGateway_StartFailsOnBusyPort(t *testing.T) {
	first, _ := newGateway(t, testConfig(), Routes{})
	require.NoError(t, first.Start(context.Background()))
	t.Cleanup(func() { _ = first.Stop(time.Second) })

	cfg := testConfig()
	cfg.Addr = first.Addr()
	second, err := NewGateway(cfg, Routes{}, component.Dependencies{})
	require.NoError(t, err)

	err = second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestNewGateway_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = ""
	_, err := NewGateway(cfg, Routes{}, component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	cfg = testConfig()
	cfg.StaticDir = filepath.Join(t.TempDir(), "nope")
	_, err = NewGateway(cfg, Routes{}, component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg = testConfig()
	cfg.StaticDir = file
	_, err = NewGateway(cfg, Routes{}, component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))
}

// selfSignedCert writes a loopback certificate and returns its paths and pool
func selfSignedCert(t *testing.T) (certFile, keyFile string, pool *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "framerelay"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "tls.crt")
	keyFile = filepath.Join(dir, "tls.key")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	pool = x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))
	return certFile, keyFile, pool
}

func TestGateway_ServesTLS(t *testing.T) {
	certFile, keyFile, pool := selfSignedCert(t)

	cfg := testConfig()
	cfg.TLS = security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}
	g, _ := newGateway(t, cfg, Routes{Health: fakeHealth{}})
	assert.Equal(t, "https", g.Scheme())

	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Stop(time.Second) })

	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}},
	}
	resp, err := client.Get("https://" + g.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.TLS)

	// Plain HTTP on a TLS listener is answered with 400 or dropped.
	plainResp, err := http.Get("http://" + g.Addr() + "/health")
	if err == nil {
		_ = plainResp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, plainResp.StatusCode)
	}
}

func TestNewGateway_BadTLSFiles(t *testing.T) {
	cfg := testConfig()
	cfg.TLS = security.ServerTLSConfig{
		Enabled:  true,
		CertFile: filepath.Join(t.TempDir(), "missing.crt"),
		KeyFile:  filepath.Join(t.TempDir(), "missing.key"),
	}
	_, err := NewGateway(cfg, Routes{}, component.Dependencies{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	plain, _ := newGateway(t, testConfig(), Routes{})
	assert.Equal(t, "http", plain.Scheme())
}
