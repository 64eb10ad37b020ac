package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/framerelay/errors"
)

// ErrNotConnected is returned by Publish without a live connection.
var ErrNotConnected = stderrors.New("not connected to NATS")

// Client owns one NATS connection for the relay.
type Client struct {
	url      string
	settings settings
	logger   *slog.Logger
	breaker  *breaker

	state      atomic.Int32
	reconnects atomic.Int32
	closed     atomic.Bool

	mu   sync.RWMutex
	conn *nats.Conn

	closeMu sync.Mutex
}

// NewClient applies opts and returns a disconnected client.
func NewClient(url string, opts ...Option) (*Client, error) {
	s := defaultSettings()
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c := &Client{
		url:      url,
		settings: s,
		logger:   s.logger.With("component", "natsclient"),
	}
	b, err := newBreaker(s.circuitThreshold, s.maxBackoff, c.onCircuitChange)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "NewClient", "configure circuit breaker")
	}
	c.breaker = b
	return c, nil
}

func (c *Client) URL() string { return c.url }

// Status reports circuit_open while the breaker is open, otherwise the last
// connection state.
func (c *Client) Status() ConnectionStatus {
	if c.breaker.isOpen() {
		return StatusCircuitOpen
	}
	return ConnectionStatus(c.state.Load())
}

func (c *Client) setState(s ConnectionStatus) {
	c.state.Store(int32(s))
	c.settings.metrics.RecordNATSStatus(s == StatusConnected)
}

func (c *Client) onCircuitChange(open bool) {
	c.settings.metrics.RecordCircuitBreakerState(open)
	if open {
		c.logger.Warn("Circuit breaker opened", "url", c.url)
	} else {
		c.logger.Debug("Circuit breaker closed, next connect attempt allowed")
	}
}

// IsHealthy is true while connected.
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// Failures is the number of failed connects since the last success.
func (c *Client) Failures() int32 {
	n, _, _ := c.breaker.stats()
	return n
}

// Backoff is how long the circuit will stay open the next time it trips.
func (c *Client) Backoff() time.Duration {
	_, _, next := c.breaker.stats()
	return next
}

// GetConnection returns the underlying connection, or nil.
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// GetStatus returns a snapshot including the server round trip when
// connected.
func (c *Client) GetStatus() *Status {
	failures, last, _ := c.breaker.stats()
	st := &Status{
		Status:          c.Status(),
		FailureCount:    failures,
		LastFailureTime: last,
		Reconnects:      c.reconnects.Load(),
	}
	if conn := c.GetConnection(); conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			st.RTT = rtt
		}
	}
	return st
}

// Connect dials the server. While the circuit is open it fails at once with
// errors.ErrCircuitOpen.
func (c *Client) Connect(ctx context.Context) error {
	if c.breaker.isOpen() {
		return errors.WrapTransient(errors.ErrCircuitOpen, "Client", "Connect", "circuit check")
	}

	c.setState(StatusConnecting)
	opts := append(c.settings.natsOptions(),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// A dial that completes after cancellation is closed, not leaked.
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}
	if res.err != nil {
		return c.connectFailed(res.err)
	}

	c.mu.Lock()
	c.conn = res.conn
	c.mu.Unlock()

	c.breaker.reset()
	c.setState(StatusConnected)
	c.logger.Info("Connected to NATS", "url", c.url, "server", res.conn.ConnectedServerId())
	return nil
}

func (c *Client) connectFailed(cause error) error {
	tripped, openFor := c.breaker.fail()
	c.setState(StatusDisconnected)
	c.logger.Debug("NATS connect failed", "error", cause, "failures", c.Failures())

	if tripped || c.breaker.isOpen() {
		return errors.WrapTransient(fmt.Errorf("%w for %v: %v", errors.ErrCircuitOpen, openFor, cause),
			"Client", "Connect", "establish connection")
	}
	return errors.WrapTransient(cause, "Client", "Connect", "establish connection")
}

// WaitForConnection polls until connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, ctx.Err()),
				"Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
	return nil
}

// Publish sends data on subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn := c.GetConnection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Close drains the connection, bounded by the drain timeout and ctx. A
// second call does nothing.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.settings.username, c.settings.password, c.settings.token = "", "", ""
	c.mu.Unlock()

	var errs []error
	if conn != nil {
		if err := c.drain(ctx, conn); err != nil {
			errs = append(errs, err)
		}
		conn.Close()
	}
	c.setState(StatusDisconnected)

	for _, err := range errs {
		c.logger.Error("NATS close error", "error", err)
	}
	return stderrors.Join(errs...)
}

func (c *Client) drain(ctx context.Context, conn *nats.Conn) error {
	timeout := c.settings.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, max(time.Until(deadline), 0))
	}

	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return errors.Wrap(err, "Client", "Close", "drain connection")
	case <-timer.C:
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout), "Client", "Close", "drain connection")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setState(StatusReconnecting)
	c.logger.Warn("NATS disconnected", "error", err)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.breaker.reset()
	c.setState(StatusConnected)
	c.reconnects.Add(1)
	c.settings.metrics.RecordNATSReconnect()
	c.logger.Info("NATS reconnected", "url", conn.ConnectedUrlRedacted())
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setState(StatusDisconnected)
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS error", "error", err)
}
