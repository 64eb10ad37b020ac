package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/c360/framerelay/broadcast"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/framing"
	"github.com/c360/framerelay/pkg/security"
)

// Worker restart policies
const (
	RestartNever     = "never"
	RestartOnFailure = "on-failure"
	RestartAlways    = "always"
)

// Codecs
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// Config represents the complete relay configuration
type Config struct {
	Worker      WorkerConfig      `json:"worker"`
	Stream      StreamConfig      `json:"stream"`
	Broadcast   broadcast.Config  `json:"broadcast"`
	HTTP        HTTPConfig        `json:"http"`
	NATS        NATSConfig        `json:"nats"`
	Record      RecordConfig      `json:"record"`
	Schema      SchemaConfig      `json:"schema"`
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
	Log         LogConfig         `json:"log"`
}

// WorkerConfig describes the worker process and how it is supervised
type WorkerConfig struct {
	Command        string             `json:"command"`
	Args           []string           `json:"args,omitempty"`
	Dir            string             `json:"dir,omitempty"`
	Env            []string           `json:"env,omitempty"` // KEY=VALUE, appended to the relay's environment
	Restart        string             `json:"restart"`
	RestartBackoff errors.RetryConfig `json:"restart_backoff"`
	StopTimeout    time.Duration      `json:"stop_timeout"`
}

// StreamConfig holds the worker output format. It is fixed at startup.
type StreamConfig struct {
	Marker       string `json:"marker"`
	Terminator   string `json:"terminator"` // exactly one byte
	Codec        string `json:"codec"`
	ChunkSize    int    `json:"chunk_size"`
	FlushOnClose bool   `json:"flush_on_close"`
}

// TerminatorByte returns the configured line terminator
func (s StreamConfig) TerminatorByte() byte {
	if len(s.Terminator) != 1 {
		return framing.DefaultTerminator
	}
	return s.Terminator[0]
}

// HTTPConfig defines the HTTP listener and its routes
type HTTPConfig struct {
	Addr            string `json:"addr"`
	StaticDir       string `json:"static_dir,omitempty"`
	IndexFile       string `json:"index_file,omitempty"`
	WebSocketPath   string `json:"websocket_path"`
	MetricsPath     string `json:"metrics_path"`
	HealthPath      string `json:"health_path"`
	DiagnosticsPath string `json:"diagnostics_path"`

	TLS security.ServerTLSConfig `json:"tls"`
}

// NATSConfig defines the optional NATS fan-out
type NATSConfig struct {
	Enabled            bool          `json:"enabled"`
	URL                string        `json:"url"`
	SubjectPrefix      string        `json:"subject_prefix"`
	Codec              string        `json:"codec"`
	PublishDiagnostics bool          `json:"publish_diagnostics"`
	MaxReconnects      int           `json:"max_reconnects,omitempty"`
	ReconnectWait      time.Duration `json:"reconnect_wait,omitempty"`
	Username           string        `json:"username,omitempty"`
	Password           string        `json:"password,omitempty"`
	Token              string        `json:"token,omitempty"`

	TLS security.ClientTLSConfig `json:"tls"`
}

// RecordConfig enables the on-disk event recorder
type RecordConfig struct {
	Enabled       bool          `json:"enabled"`
	Directory     string        `json:"directory"`
	FilePrefix    string        `json:"file_prefix"`
	Format        string        `json:"format"` // jsonl or raw
	Append        bool          `json:"append"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// SchemaConfig enables JSON Schema validation of events when Path is set
type SchemaConfig struct {
	Path string `json:"path,omitempty"`
}

// DiagnosticsConfig sizes the recent diagnostics history
type DiagnosticsConfig struct {
	RecentCapacity int `json:"recent_capacity"`
}

// LogConfig selects the process log level and format
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Restart:        RestartNever,
			RestartBackoff: errors.DefaultRetryConfig(),
			StopTimeout:    5 * time.Second,
		},
		Stream: StreamConfig{
			Marker:     framing.DefaultMarker,
			Terminator: string(framing.DefaultTerminator),
			Codec:      CodecJSON,
			ChunkSize:  32 * 1024,
		},
		Broadcast: broadcast.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr:            ":3000",
			IndexFile:       "index.html",
			WebSocketPath:   "/ws",
			MetricsPath:     "/metrics",
			HealthPath:      "/health",
			DiagnosticsPath: "/diagnostics",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "framerelay",
			Codec:         CodecJSON,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Record: RecordConfig{
			Directory:     "recordings",
			FilePrefix:    "events",
			Format:        "jsonl",
			Append:        true,
			BufferSize:    100,
			FlushInterval: time.Second,
		},
		Diagnostics: DiagnosticsConfig{RecentCapacity: 200},
		Log:         LogConfig{Level: "info", Format: "json"},
	}
}

// Validate checks if the config is valid. It returns an invalid-class error
// naming the first offending field.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Config", "Validate", "check configuration")
	}
	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Worker.Command) == "" {
		return fmt.Errorf("worker.command is required")
	}
	switch c.Worker.Restart {
	case RestartNever, RestartOnFailure, RestartAlways:
	default:
		return fmt.Errorf("worker.restart %q must be one of never, on-failure, always", c.Worker.Restart)
	}
	if c.Worker.RestartBackoff.MaxRetries < -1 {
		return fmt.Errorf("worker.restart_backoff.max_retries must be >= -1")
	}
	if c.Worker.StopTimeout < 0 {
		return fmt.Errorf("worker.stop_timeout must not be negative")
	}

	if c.Stream.Marker == "" {
		return fmt.Errorf("stream.marker is required")
	}
	if len(c.Stream.Terminator) != 1 {
		return fmt.Errorf("stream.terminator must be exactly one byte, got %d", len(c.Stream.Terminator))
	}
	if strings.Contains(c.Stream.Marker, c.Stream.Terminator) {
		return fmt.Errorf("stream.marker must not contain the terminator")
	}
	if c.Stream.Codec != CodecJSON {
		return fmt.Errorf("stream.codec %q is not supported", c.Stream.Codec)
	}
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("stream.chunk_size must be positive")
	}

	if c.Broadcast.Topic == "" {
		return fmt.Errorf("broadcast.topic is required")
	}
	if c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("broadcast.queue_size must be positive")
	}
	if !c.Broadcast.SlowConsumer.Valid() {
		return fmt.Errorf("broadcast.slow_consumer %q must be disconnect or drop_oldest", c.Broadcast.SlowConsumer)
	}

	if err := validateAddr(c.HTTP.Addr); err != nil {
		return fmt.Errorf("http.addr: %w", err)
	}
	paths := map[string]string{
		"http.websocket_path":   c.HTTP.WebSocketPath,
		"http.metrics_path":     c.HTTP.MetricsPath,
		"http.health_path":      c.HTTP.HealthPath,
		"http.diagnostics_path": c.HTTP.DiagnosticsPath,
	}
	seen := make(map[string]string, len(paths))
	for name, p := range paths {
		if !strings.HasPrefix(p, "/") || p == "/" {
			return fmt.Errorf("%s %q must be an absolute path other than /", name, p)
		}
		if other, dup := seen[p]; dup {
			return fmt.Errorf("%s and %s both use %q", name, other, p)
		}
		seen[p] = name
	}
	if err := c.HTTP.TLS.Validate(); err != nil {
		return fmt.Errorf("http.tls: %w", err)
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if !isValidSubjectPrefix(c.NATS.SubjectPrefix) {
			return fmt.Errorf("nats.subject_prefix %q is not a valid NATS subject", c.NATS.SubjectPrefix)
		}
		if c.NATS.Codec != CodecJSON && c.NATS.Codec != CodecCBOR {
			return fmt.Errorf("nats.codec %q must be json or cbor", c.NATS.Codec)
		}
		if err := c.NATS.TLS.Validate(); err != nil {
			return fmt.Errorf("nats.tls: %w", err)
		}
	}

	if c.Record.Enabled {
		if c.Record.Directory == "" || c.Record.FilePrefix == "" {
			return fmt.Errorf("record.directory and record.file_prefix are required when record is enabled")
		}
		if c.Record.Format != "jsonl" && c.Record.Format != "raw" {
			return fmt.Errorf("record.format %q must be jsonl or raw", c.Record.Format)
		}
		if c.Record.BufferSize < 0 || c.Record.FlushInterval < 0 {
			return fmt.Errorf("record.buffer_size and record.flush_interval must not be negative")
		}
	}

	if c.Diagnostics.RecentCapacity < 0 {
		return fmt.Errorf("diagnostics.recent_capacity must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q must be json or text", c.Log.Format)
	}

	return nil
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return fmt.Errorf("missing port")
	}
	var n int
	if _, err := fmt.Sscanf(port, "%d", &n); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// isValidSubjectPrefix accepts dot-separated tokens of letters, digits, dash and underscore.
func isValidSubjectPrefix(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			ok := r == '-' || r == '_' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !ok {
				return false
			}
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a redacted JSON rendering for --validate output and debug logs
func (c *Config) String() string {
	redacted := c.Clone()
	for _, s := range []*string{&redacted.NATS.Password, &redacted.NATS.Token} {
		if *s != "" {
			*s = "[REDACTED]"
		}
	}
	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
