// Package http serves the relay's HTTP surface: the viewer page, the
// websocket stream, metrics, health and recent diagnostics.
package http

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/framerelay/component"
	"github.com/c360/framerelay/config"
	"github.com/c360/framerelay/diagnostic"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/health"
	"github.com/c360/framerelay/metric"
	"github.com/c360/framerelay/pkg/tlsutil"
	"github.com/c360/framerelay/web"
)

// SystemName labels the aggregate health report.
const SystemName = "framerelay"

// Server timeouts. There is no write timeout: websocket connections are
// long-lived and manage their own deadlines.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// HealthReporter returns per-component health. component.Manager implements it.
type HealthReporter interface {
	Health() map[string]component.HealthStatus
}

// Routes holds the handlers the gateway mounts. Nil entries are not mounted.
type Routes struct {
	WebSocket   http.Handler
	Health      HealthReporter
	Diagnostics *diagnostic.RecentSink
}

// getOrGenerateRequestID extracts the request ID from headers or generates one
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// Gateway owns the HTTP listener
type Gateway struct {
	name     string
	config   config.HTTPConfig
	routes   Routes
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	logger   *slog.Logger
	handler  http.Handler
	tls      *tls.Config // nil serves plain HTTP

	running atomic.Bool

	mu           sync.RWMutex
	server       *http.Server
	listener     net.Listener
	serveErr     chan error
	startTime    time.Time
	lastActivity time.Time
	lastError    string

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64

	requests *prometheus.CounterVec
}

var _ component.LifecycleComponent = (*Gateway)(nil)

// NewGateway builds the gateway and its route table.
func NewGateway(cfg config.HTTPConfig, routes Routes, deps component.Dependencies) (*Gateway, error) {
	if cfg.Addr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "NewGateway", "http.addr is required")
	}
	if cfg.StaticDir != "" {
		info, err := os.Stat(cfg.StaticDir)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "stat static_dir")
		}
		if !info.IsDir() {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: static_dir %s is not a directory", errors.ErrInvalidConfig, cfg.StaticDir),
				"Gateway", "NewGateway", "validate static_dir")
		}
	}

	tlsConfig, err := tlsutil.LoadServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	logger := deps.GetLoggerWithComponent("http-gateway")
	g := &Gateway{
		name:     "http-gateway",
		config:   cfg,
		routes:   routes,
		registry: deps.MetricsRegistry,
		monitor:  health.NewMonitor(logger),
		logger:   logger,
		tls:      tlsConfig,
	}

	if deps.MetricsRegistry != nil {
		g.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"})
		if err := deps.MetricsRegistry.Register("http-gateway", "requests_total", g.requests); err != nil {
			return nil, errors.Wrap(err, "Gateway", "NewGateway", "register metrics")
		}
	}

	g.handler = g.buildMux()
	return g, nil
}

// Handler returns the gateway's routes without a listener, for tests and
// embedding.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

func (g *Gateway) buildMux() http.Handler {
	mux := http.NewServeMux()

	if g.routes.WebSocket != nil {
		mux.Handle("GET "+g.config.WebSocketPath, g.track("websocket", g.routes.WebSocket))
	}
	if g.registry != nil && g.config.MetricsPath != "" {
		mux.Handle("GET "+g.config.MetricsPath, g.track("metrics", g.registry.Handler()))
	}
	if g.routes.Health != nil && g.config.HealthPath != "" {
		mux.Handle("GET "+g.config.HealthPath, g.track("health", http.HandlerFunc(g.handleHealth)))
	}
	if g.routes.Diagnostics != nil && g.config.DiagnosticsPath != "" {
		mux.Handle("GET "+g.config.DiagnosticsPath, g.track("diagnostics", http.HandlerFunc(g.handleDiagnostics)))
	}

	mux.Handle("GET /{$}", g.track("index", http.HandlerFunc(g.handleIndex)))
	if g.config.StaticDir != "" {
		mux.Handle("GET /", g.track("static", http.FileServer(http.Dir(g.config.StaticDir))))
	}
	return mux
}

// statusRecorder captures the response code for request accounting.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is forwarded so websocket upgrades work through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (g *Gateway) track(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", getOrGenerateRequestID(r))

		g.requestsTotal.Add(1)
		g.mu.Lock()
		g.lastActivity = time.Now()
		g.mu.Unlock()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.code >= http.StatusInternalServerError {
			g.requestsFailed.Add(1)
		}
		if g.requests != nil {
			g.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		}
	})
}

func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	if path := g.indexPath(); path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			http.ServeFile(w, r, path)
			return
		}
	}
	if g.config.IndexFile != "" && g.config.IndexFile != web.IndexName {
		g.writeError(w, http.StatusNotFound, "index not found")
		return
	}
	http.ServeFileFS(w, r, web.FS(), web.IndexName)
}

// indexPath resolves index_file against static_dir when it is relative.
func (g *Gateway) indexPath() string {
	name := g.config.IndexFile
	if name != "" && !filepath.IsAbs(name) && g.config.StaticDir != "" {
		return filepath.Join(g.config.StaticDir, name)
	}
	return name
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.monitor.Sync(g.routes.Health.Health())
	overall := g.monitor.Snapshot(SystemName)

	code := http.StatusOK
	if overall.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, overall)
}

type diagnosticsResponse struct {
	Entries []diagnostic.Entry `json:"entries"`
	Evicted int64              `json:"evicted"`
}

func (g *Gateway) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	entries := g.routes.Diagnostics.Recent()
	if entries == nil {
		entries = []diagnostic.Entry{}
	}
	g.writeJSON(w, http.StatusOK, diagnosticsResponse{
		Entries: entries,
		Evicted: g.routes.Diagnostics.Evicted(),
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("Failed to encode response", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, _ := json.Marshal(map[string]any{
		"error":  message,
		"status": statusCode,
	})
	_, _ = w.Write(data)
}

// Start binds the listener and serves in the background. Binding errors are
// returned directly.
func (g *Gateway) Start(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Start", "gateway already running")
	}

	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Start", fmt.Sprintf("listen on %s", g.config.Addr))
	}
	if g.tls != nil {
		ln = tls.NewListener(ln, g.tls)
	}

	g.listener = ln
	g.server = &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(g.logger.Handler(), slog.LevelWarn),
		TLSConfig:         g.tls,
	}
	g.serveErr = make(chan error, 1)
	g.startTime = time.Now()
	g.lastError = ""
	g.running.Store(true)

	server, serveErr := g.server, g.serveErr
	go func() {
		err := server.Serve(ln)
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			g.logger.Error("HTTP server error", "error", err)
			g.mu.Lock()
			g.lastError = err.Error()
			g.mu.Unlock()
			g.running.Store(false)
		}
		serveErr <- err
	}()

	g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "tls", g.tls != nil)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop shuts the server down gracefully within timeout. Hijacked websocket
// connections are left to the websocket output.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	server := g.server
	g.server = nil
	g.mu.Unlock()

	if server == nil {
		return nil
	}
	g.running.Store(false)

	logger := g.logger.With("operation", "http-shutdown")
	logger.Debug("Starting HTTP server shutdown", "timeout", timeout)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		_ = server.Close()
		return errors.WrapTransient(err, "Gateway", "Stop", "shutdown HTTP server")
	}

	logger.Debug("HTTP server shutdown completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Scheme returns "https" when TLS is configured and "http" otherwise.
func (g *Gateway) Scheme() string {
	if g.tls != nil {
		return "https"
	}
	return "http"
}

// Meta returns component metadata
func (g *Gateway) Meta() component.Metadata {
	return component.Metadata{
		Name:        g.name,
		Type:        "gateway",
		Description: fmt.Sprintf("HTTP server on %s", g.config.Addr),
		Version:     "1.0.0",
	}
}

// Health returns the current health status
func (g *Gateway) Health() component.HealthStatus {
	g.mu.RLock()
	startTime := g.startTime
	lastError := g.lastError
	g.mu.RUnlock()

	hs := component.HealthStatus{
		Healthy:    g.running.Load(),
		LastError:  lastError,
		LastCheck:  time.Now(),
		ErrorCount: int(g.requestsFailed.Load()),
	}
	if !startTime.IsZero() {
		hs.Uptime = time.Since(startTime)
	}
	return hs
}

// DataFlow returns request throughput since start
func (g *Gateway) DataFlow() component.FlowMetrics {
	g.mu.RLock()
	startTime := g.startTime
	lastActivity := g.lastActivity
	g.mu.RUnlock()

	total := g.requestsTotal.Load()
	failed := g.requestsFailed.Load()

	fm := component.Flow(startTime, total, 0, failed, total)
	fm.LastActivity = lastActivity
	return fm
}

// Wait blocks until the server stops serving and returns its error, if any.
func (g *Gateway) Wait(ctx context.Context) error {
	g.mu.RLock()
	ch := g.serveErr
	g.mu.RUnlock()
	if ch == nil {
		return nil
	}
	select {
	case err := <-ch:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
