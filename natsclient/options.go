package natsclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/framerelay/metric"
)

// settings holds everything an Option can change. Credentials are cleared
// when the client closes.
type settings struct {
	name    string
	logger  *slog.Logger
	metrics *metric.Metrics

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	circuitThreshold int32
	maxBackoff       time.Duration

	username, password, token string
	tls                       *tls.Config
}

func defaultSettings() settings {
	return settings{
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
	}
}

// natsOptions translates settings into nats.go options. Handlers are added
// by the client.
func (s *settings) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(s.maxReconnects),
		nats.ReconnectWait(s.reconnectWait),
		nats.PingInterval(s.pingInterval),
		nats.Timeout(s.timeout),
		nats.DrainTimeout(s.drainTimeout),
	}
	if s.name != "" {
		opts = append(opts, nats.Name(s.name))
	}
	switch {
	case s.token != "":
		opts = append(opts, nats.Token(s.token))
	case s.username != "" && s.password != "":
		opts = append(opts, nats.UserInfo(s.username, s.password))
	}
	if s.tls != nil {
		opts = append(opts, nats.Secure(s.tls))
	}
	return opts
}

// Option configures a Client.
type Option func(*settings) error

// WithName sets the client name reported to the server.
func WithName(name string) Option {
	return func(s *settings) error { s.name = name; return nil }
}

// WithLogger replaces slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithMetrics exports connection state, reconnects and circuit state.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *settings) error { s.metrics = m; return nil }
}

// WithMaxReconnects bounds nats.go reconnect attempts; -1 retries forever.
func WithMaxReconnects(n int) Option {
	return func(s *settings) error { s.maxReconnects = n; return nil }
}

func WithReconnectWait(d time.Duration) Option {
	return func(s *settings) error { s.reconnectWait = d; return nil }
}

func WithPingInterval(d time.Duration) Option {
	return func(s *settings) error { s.pingInterval = d; return nil }
}

// WithTimeout bounds a single dial.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) error { s.timeout = d; return nil }
}

// WithDrainTimeout bounds how long Close waits for in-flight messages.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *settings) error { s.drainTimeout = d; return nil }
}

// WithCircuitBreakerThreshold sets how many failed connects in a row open
// the circuit.
func WithCircuitBreakerThreshold(n int32) Option {
	return func(s *settings) error {
		if n < 1 {
			return fmt.Errorf("circuit breaker threshold must be at least 1, got %d", n)
		}
		s.circuitThreshold = n
		return nil
	}
}

// WithMaxBackoff caps how long the circuit stays open.
func WithMaxBackoff(d time.Duration) Option {
	return func(s *settings) error {
		if d <= 0 {
			return fmt.Errorf("max backoff must be positive, got %v", d)
		}
		s.maxBackoff = d
		return nil
	}
}

// WithCredentials authenticates with user and password. A token set with
// WithToken takes precedence.
func WithCredentials(username, password string) Option {
	return func(s *settings) error {
		s.username, s.password = username, password
		return nil
	}
}

func WithToken(token string) Option {
	return func(s *settings) error { s.token = token; return nil }
}

// WithTLS secures the connection. nil leaves it in plain text.
func WithTLS(cfg *tls.Config) Option {
	return func(s *settings) error { s.tls = cfg; return nil }
}
