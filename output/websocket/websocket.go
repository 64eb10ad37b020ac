package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/framerelay/broadcast"
	"github.com/c360/framerelay/component"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/metric"
	"github.com/c360/framerelay/processor/parser"
)

// Disconnect reasons used in metrics and logs.
const (
	ReasonClientClosed = "client_closed"
	ReasonReadError    = "read_error"
	ReasonPingFailed   = "ping_failed"
	ReasonHubRemoved   = "hub_removed"
	ReasonShutdown     = "shutdown"
)

// Hub is the part of broadcast.Hub the output needs.
type Hub interface {
	Subscribe(sub broadcast.Subscriber) error
	Unsubscribe(id string) error
	Topic() string
}

// Config holds configuration for the WebSocket output
type Config struct {
	Name string `json:"name"`
	// WriteTimeout bounds every frame written to a client.
	WriteTimeout time.Duration `json:"write_timeout"`
	// ReadTimeout is how long a client may stay silent, pongs included.
	ReadTimeout time.Duration `json:"read_timeout"`
	// PingInterval must be shorter than ReadTimeout.
	PingInterval time.Duration `json:"ping_interval"`
	// ReadLimit caps the size of a message a client may send.
	ReadLimit int64 `json:"read_limit"`
}

// DefaultConfig returns sensible defaults for the output
func DefaultConfig() Config {
	return Config{
		Name:         "websocket-output",
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		ReadLimit:    4096,
	}
}

// MessageEnvelope wraps every event written to a client
type MessageEnvelope struct {
	Type      string          `json:"type"`              // Hub topic
	ID        string          `json:"id"`                // Event sequence number
	Timestamp int64           `json:"timestamp"`         // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"` // Worker JSON, as received
}

// Output serves WebSocket clients and feeds each one from the hub.
type Output struct {
	cfg      Config
	hub      Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
	metrics  *Metrics

	clients   map[string]*client
	clientsMu sync.RWMutex

	// Lifecycle management
	shutdown  chan struct{}
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup

	messagesSent atomic.Int64
	bytesSent    atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Value // stores time.Time
	lastError    atomic.Value // stores string
}

// Ensure Output implements all required interfaces
var (
	_ component.LifecycleComponent = (*Output)(nil)
	_ http.Handler                 = (*Output)(nil)
)

// Metrics holds Prometheus metrics for the output
type Metrics struct {
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	messagesSent       prometheus.Counter
	bytesSent          prometheus.Counter
	messageSizeBytes   *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers output metrics. A nil registrar yields nil metrics.
func newMetrics(registrar metric.Registrar, name string) (*Metrics, error) {
	if registrar == nil {
		return nil, nil
	}

	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "framerelay",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to WebSocket clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to WebSocket clients",
		}),
		messageSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "framerelay",
			Subsystem: "websocket",
			Name:      "message_size_bytes",
			Help:      "Size distribution of outgoing messages",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"topic"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framerelay",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket server errors",
		}, []string{"error_type"}),
	}

	err := metric.RegisterAll(registrar, name,
		metric.Named{Name: "clients_connected", Collector: m.clientsConnected},
		metric.Named{Name: "client_connections_total", Collector: m.connectionTotal},
		metric.Named{Name: "client_disconnections_total", Collector: m.disconnectionTotal},
		metric.Named{Name: "messages_sent_total", Collector: m.messagesSent},
		metric.Named{Name: "bytes_sent_total", Collector: m.bytesSent},
		metric.Named{Name: "message_size_bytes", Collector: m.messageSizeBytes},
		metric.Named{Name: "errors_total", Collector: m.errorsTotal},
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordError(kind string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(kind).Inc()
	}
}

// NewOutput creates the output. deps.MetricsRegistry and deps.Logger are optional.
func NewOutput(cfg Config, hub Hub, deps component.Dependencies) (*Output, error) {
	if hub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Output", "NewOutput", "hub is required")
	}

	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.PingInterval >= cfg.ReadTimeout {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: ping interval %v must be shorter than read timeout %v",
				errors.ErrInvalidConfig, cfg.PingInterval, cfg.ReadTimeout),
			"Output", "NewOutput", "validate config")
	}

	var registrar metric.Registrar
	if deps.MetricsRegistry != nil {
		registrar = deps.MetricsRegistry
	}
	metrics, err := newMetrics(registrar, cfg.Name)
	if err != nil {
		return nil, errors.Wrap(err, "Output", "NewOutput", "register metrics")
	}

	o := &Output{
		cfg:    cfg,
		hub:    hub,
		logger: deps.GetLoggerWithComponent(cfg.Name),
		upgrader: websocket.Upgrader{
			// The page is served by the same relay; any origin may watch the stream.
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		metrics:   metrics,
		clients:   make(map[string]*client),
		startTime: time.Now(),
	}
	o.lastActivity.Store(time.Time{})
	o.lastError.Store("")
	return o, nil
}

// Meta returns the component metadata
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.cfg.Name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket clients of topic %s", o.hub.Topic()),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (o *Output) Health() component.HealthStatus {
	o.mu.RLock()
	running := o.running
	startTime := o.startTime
	o.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(o.errors.Load()),
		LastError:  o.lastError.Load().(string),
		Uptime:     time.Since(startTime),
	}
}

// DataFlow returns the current data flow metrics
func (o *Output) DataFlow() component.FlowMetrics {
	o.mu.RLock()
	startTime := o.startTime
	o.mu.RUnlock()

	messages := o.messagesSent.Load()
	bytes := o.bytesSent.Load()
	errCount := o.errors.Load()

	fm := component.Flow(startTime, messages, bytes, errCount, messages)
	fm.LastActivity = o.lastActivity.Load().(time.Time)
	return fm
}

// Start begins accepting upgrades and starts the ping loop.
func (o *Output) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Output", "Start", "context already cancelled or timed out")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	o.shutdown = make(chan struct{})
	o.running = true
	o.startTime = time.Now()

	o.wg.Add(1)
	go o.pingClients(ctx, o.shutdown)

	o.logger.Info("WebSocket output started", "topic", o.hub.Topic())
	return nil
}

// Stop closes every client and waits up to timeout for their goroutines.
func (o *Output) Stop(timeout time.Duration) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.shutdown)
	o.mu.Unlock()

	for _, c := range o.snapshot() {
		deadline := time.Now().Add(o.cfg.WriteTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		c.close(ReasonShutdown)
		_ = o.hub.Unsubscribe(c.id)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("WebSocket output stopped")
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("client goroutines still running after %v", timeout),
			"Output", "Stop", "wait for clients")
	}
}

// ClientCount returns the number of connected clients
func (o *Output) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

// ServeHTTP upgrades the request and registers the connection with the hub.
func (o *Output) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.RLock()
	running := o.running
	shutdown := o.shutdown
	if running {
		o.wg.Add(1)
	}
	o.mu.RUnlock()

	if !running {
		http.Error(w, "websocket output not running", http.StatusServiceUnavailable)
		return
	}
	defer o.wg.Done()

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response
		o.recordError("connection_upgrade", err)
		return
	}

	c := &client{
		id:          broadcast.NewSubscriberID(),
		conn:        conn,
		out:         o,
		connectedAt: time.Now(),
	}

	o.clientsMu.Lock()
	o.clients[c.id] = c
	count := len(o.clients)
	o.clientsMu.Unlock()

	if o.metrics != nil {
		o.metrics.connectionTotal.Inc()
		o.metrics.clientsConnected.Set(float64(count))
	}

	select {
	case <-shutdown:
		c.close(ReasonShutdown)
		return
	default:
	}

	if err := o.hub.Subscribe(c); err != nil {
		o.recordError("subscribe", err)
		c.close(ReasonHubRemoved)
		return
	}

	o.logger.Info("Client connected", "client", c.id, "remote", r.RemoteAddr, "clients", count)
	o.readLoop(c, shutdown)
}

// readLoop runs until the client goes away. Client messages are discarded.
func (o *Output) readLoop(c *client, shutdown <-chan struct{}) {
	c.conn.SetReadLimit(o.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(o.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(o.cfg.ReadTimeout))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			select {
			case <-shutdown:
				return
			default:
			}
			reason := ReasonReadError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = ReasonClientClosed
			}
			c.close(reason)
			_ = o.hub.Unsubscribe(c.id)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(o.cfg.ReadTimeout))
	}
}

// pingClients sends a ping to every client each PingInterval
func (o *Output) pingClients(ctx context.Context, shutdown <-chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
		}

		for _, c := range o.snapshot() {
			deadline := time.Now().Add(o.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				o.recordError("ping", err)
				c.close(ReasonPingFailed)
				_ = o.hub.Unsubscribe(c.id)
			}
		}
	}
}

func (o *Output) snapshot() []*client {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	list := make([]*client, 0, len(o.clients))
	for _, c := range o.clients {
		if !c.closed.Load() {
			list = append(list, c)
		}
	}
	return list
}

func (o *Output) removeClient(c *client, reason string) {
	o.clientsMu.Lock()
	delete(o.clients, c.id)
	count := len(o.clients)
	o.clientsMu.Unlock()

	if o.metrics != nil {
		o.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
		o.metrics.clientsConnected.Set(float64(count))
	}
	o.logger.Info("Client disconnected", "client", c.id, "reason", reason,
		"connected_for", time.Since(c.connectedAt).Round(time.Millisecond), "clients", count)
}

func (o *Output) recordError(kind string, err error) {
	o.errors.Add(1)
	o.lastError.Store(fmt.Sprintf("%s: %v", kind, err))
	o.metrics.recordError(kind)
	o.logger.Debug("WebSocket error", "type", kind, "error", err)
}

func (o *Output) recordSent(n int) {
	o.messagesSent.Add(1)
	o.bytesSent.Add(int64(n))
	o.lastActivity.Store(time.Now())
	if o.metrics != nil {
		o.metrics.messagesSent.Inc()
		o.metrics.bytesSent.Add(float64(n))
		o.metrics.messageSizeBytes.WithLabelValues(o.hub.Topic()).Observe(float64(n))
	}
}

// client is one connection, registered with the hub as a subscriber.
type client struct {
	id          string
	conn        *websocket.Conn
	out         *Output
	connectedAt time.Time

	writeMutex sync.Mutex // gorilla/websocket allows one concurrent writer
	closed     atomic.Bool
	closeOnce  sync.Once
}

func (c *client) ID() string {
	return c.id
}

// Deliver writes ev as one envelope frame.
func (c *client) Deliver(ctx context.Context, ev parser.Event) error {
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	data, err := encodeEnvelope(c.out.hub.Topic(), ev)
	if err != nil {
		c.out.recordError("envelope_marshal", err)
		return err
	}

	deadline := time.Now().Add(c.out.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.out.recordError("client_send", err)
		return err
	}
	c.out.recordSent(len(data))
	return nil
}

// Close is called by the hub once it has removed the subscriber.
func (c *client) Close() error {
	c.close(ReasonHubRemoved)
	return nil
}

func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()
		c.out.removeClient(c, reason)
	})
}

func encodeEnvelope(topic string, ev parser.Event) ([]byte, error) {
	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(MessageEnvelope{
		Type:      topic,
		ID:        strconv.FormatUint(ev.Seq, 10),
		Timestamp: ts.UnixMilli(),
		Payload:   ev.Raw,
	})
}
