package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framerelay/broadcast"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/pkg/security"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Worker.Command = "python3"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "DATA_START:", cfg.Stream.Marker)
	assert.Equal(t, byte('\n'), cfg.Stream.TerminatorByte())
	assert.Equal(t, "video_frame", cfg.Broadcast.Topic)
	assert.Equal(t, broadcast.PolicyDisconnect, cfg.Broadcast.SlowConsumer)
	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, RestartNever, cfg.Worker.Restart)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.Stream.FlushOnClose)

	err := cfg.Validate()
	require.Error(t, err, "defaults lack a worker command")
	assert.Contains(t, err.Error(), "worker.command")
}

func TestLoader_YAML(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
worker:
  command: python3
  args: ["-u", "worker.py"]
  restart: on-failure
  stop_timeout: 3s
  restart_backoff:
    max_retries: -1
    initial_delay: 250ms
stream:
  flush_on_close: true
broadcast:
  topic: detections
  slow_consumer: drop_oldest
  write_timeout: 2s
nats:
  enabled: true
  codec: cbor
  reconnect_wait: 1s
`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "python3", cfg.Worker.Command)
	assert.Equal(t, []string{"-u", "worker.py"}, cfg.Worker.Args)
	assert.Equal(t, RestartOnFailure, cfg.Worker.Restart)
	assert.Equal(t, 3*time.Second, cfg.Worker.StopTimeout)
	assert.Equal(t, -1, cfg.Worker.RestartBackoff.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.RestartBackoff.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Worker.RestartBackoff.MaxDelay, "unset keys keep defaults")
	assert.True(t, cfg.Stream.FlushOnClose)
	assert.Equal(t, "DATA_START:", cfg.Stream.Marker)
	assert.Equal(t, "detections", cfg.Broadcast.Topic)
	assert.Equal(t, broadcast.PolicyDropOldest, cfg.Broadcast.SlowConsumer)
	assert.Equal(t, 2*time.Second, cfg.Broadcast.DeliverTimeout)
	assert.Equal(t, 64, cfg.Broadcast.QueueSize)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, CodecCBOR, cfg.NATS.Codec)
	assert.Equal(t, time.Second, cfg.NATS.ReconnectWait)
}

func TestLoader_TLSAndRecordSections(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
worker:
  command: python3
http:
  tls:
    enabled: true
    cert_file: /etc/framerelay/tls.crt
    key_file: /etc/framerelay/tls.key
    min_version: "1.3"
nats:
  enabled: true
  url: tls://nats.internal:4222
  tls:
    enabled: true
    ca_files: [/etc/framerelay/ca.pem]
record:
  enabled: true
  format: raw
  flush_interval: 250ms
`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.HTTP.TLS.Enabled)
	assert.Equal(t, "1.3", cfg.HTTP.TLS.MinVersion)
	assert.Equal(t, "/etc/framerelay/tls.key", cfg.HTTP.TLS.KeyFile)
	assert.True(t, cfg.NATS.TLS.Enabled)
	assert.Equal(t, []string{"/etc/framerelay/ca.pem"}, cfg.NATS.TLS.CAFiles)
	assert.True(t, cfg.Record.Enabled)
	assert.Equal(t, "raw", cfg.Record.Format)
	assert.Equal(t, 250*time.Millisecond, cfg.Record.FlushInterval)
	assert.Equal(t, "recordings", cfg.Record.Directory)
}

func TestLoader_JSONC(t *testing.T) {
	path := writeFile(t, "relay.jsonc", `{
	// worker spawned at startup
	"worker": {"command": "./worker", "restart": "always",},
	/* serve on another port */
	"http": {"addr": "127.0.0.1:8080"},
}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "./worker", cfg.Worker.Command)
	assert.Equal(t, RestartAlways, cfg.Worker.Restart)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
	assert.Equal(t, "/ws", cfg.HTTP.WebSocketPath)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", `{"worker": {"command": "python3", "args": ["a.py"]}, "log": {"level": "debug"}}`)
	override := writeFile(t, "override.json", `{"worker": {"args": ["b.py"]}}`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(override)
	l.EnableValidation(true)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "python3", cfg.Worker.Command)
	assert.Equal(t, []string{"b.py"}, cfg.Worker.Args)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "relay.json", `{"worker": {"command": "python3"}}`)

	t.Setenv("FRAMERELAY_WORKER_COMMAND", "/usr/bin/worker")
	t.Setenv("FRAMERELAY_WORKER_ARGS", "--fps 30")
	t.Setenv("FRAMERELAY_HTTP_ADDR", ":9000")
	t.Setenv("FRAMERELAY_NATS_ENABLED", "true")
	t.Setenv("FRAMERELAY_LOG_LEVEL", "")

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/worker", cfg.Worker.Command)
	assert.Equal(t, []string{"--fps", "30"}, cfg.Worker.Args)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "info", cfg.Log.Level, "empty variables are ignored")
}

func TestLoader_BadEnvBool(t *testing.T) {
	t.Setenv("FRAMERELAY_NATS_ENABLED", "sometimes")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"bad duration", "a.yaml", "worker:\n  stop_timeout: soon\n", "stop_timeout"},
		{"bad json", "a.json", `{"worker": `, "parse json"},
		{"bad yaml", "a.yml", "worker: [unclosed\n", "parse yaml"},
		{"unsupported extension", "a.toml", "x = 1", "unsupported config file type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := NewLoader().LoadFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSafeReadFile(t *testing.T) {
	path := writeFile(t, "ok.json", `{"a": 1}`)
	data, err := safeReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, string(data))

	_, err = safeReadFile(filepath.Dir(path) + string(filepath.Separator) + "dir.json")
	assert.Error(t, err, "missing file")

	dir := filepath.Join(t.TempDir(), "conf.json")
	require.NoError(t, os.Mkdir(dir, 0o755))
	_, err = safeReadFile(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a regular file")

	big := writeFile(t, "big.json", `"`+strings.Repeat("x", maxConfigSize)+`"`)
	_, err = safeReadFile(big)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	_, err = safeReadFile("../../../etc/framerelay.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [1, {"b": "]]]]"}]}`)))
	assert.NoError(t, validateJSONDepth([]byte(`{"broken": `)), "syntax errors are reported by the parser")

	deep := strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)
	err := validateJSONDepth([]byte(deep))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too deep")
}

func TestValidateEnvVar(t *testing.T) {
	assert.NoError(t, validateEnvVar("X", "python3"))
	assert.Error(t, validateEnvVar("X", "a\x00b"))
	assert.Error(t, validateEnvVar("X", strings.Repeat("a", maxEnvVarLen+1)))
}

func TestLoader_ValidationEnabled(t *testing.T) {
	path := writeFile(t, "relay.yaml", "worker:\n  command: python3\nstream:\n  terminator: \"\\r\\n\"\n")

	l := NewLoader()
	l.EnableValidation(true)
	_, err := l.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.terminator")
	assert.True(t, errors.IsInvalid(err))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"restart policy", func(c *Config) { c.Worker.Restart = "sometimes" }, "worker.restart"},
		{"empty marker", func(c *Config) { c.Stream.Marker = "" }, "stream.marker"},
		{"marker contains terminator", func(c *Config) { c.Stream.Marker = "DATA\n" }, "must not contain"},
		{"codec", func(c *Config) { c.Stream.Codec = "msgpack" }, "stream.codec"},
		{"chunk size", func(c *Config) { c.Stream.ChunkSize = 0 }, "stream.chunk_size"},
		{"topic", func(c *Config) { c.Broadcast.Topic = "" }, "broadcast.topic"},
		{"queue size", func(c *Config) { c.Broadcast.QueueSize = 0 }, "broadcast.queue_size"},
		{"policy", func(c *Config) { c.Broadcast.SlowConsumer = "block" }, "broadcast.slow_consumer"},
		{"addr", func(c *Config) { c.HTTP.Addr = "3000" }, "http.addr"},
		{"port range", func(c *Config) { c.HTTP.Addr = ":70000" }, "http.addr"},
		{"relative path", func(c *Config) { c.HTTP.WebSocketPath = "ws" }, "http.websocket_path"},
		{"duplicate path", func(c *Config) { c.HTTP.HealthPath = "/metrics" }, "both use"},
		{"nats prefix", func(c *Config) { c.NATS.Enabled = true; c.NATS.SubjectPrefix = "relay..x" }, "nats.subject_prefix"},
		{"nats codec", func(c *Config) { c.NATS.Enabled = true; c.NATS.Codec = "xml" }, "nats.codec"},
		{"nats disabled ignores codec", func(c *Config) { c.NATS.Codec = "xml" }, ""},
		{"http tls without cert", func(c *Config) { c.HTTP.TLS.Enabled = true }, "http.tls"},
		{"nats tls half client cert", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.TLS = security.ClientTLSConfig{Enabled: true, CertFile: "client.pem"}
		}, "nats.tls"},
		{"record format", func(c *Config) { c.Record.Enabled = true; c.Record.Format = "csv" }, "record.format"},
		{"record directory", func(c *Config) { c.Record.Enabled = true; c.Record.Directory = "" }, "record.directory"},
		{"record disabled ignores format", func(c *Config) { c.Record.Format = "csv" }, ""},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_StringRedacts(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.True(t, strings.Contains(out, "[REDACTED]"))
	assert.Equal(t, "hunter2", cfg.NATS.Password, "String must not modify the receiver")
}

func TestConfig_Clone(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.Args = []string{"a"}

	clone := cfg.Clone()
	clone.Worker.Args[0] = "b"
	assert.Equal(t, "a", cfg.Worker.Args[0])
	assert.Equal(t, cfg.Worker.RestartBackoff, clone.Worker.RestartBackoff)
}
