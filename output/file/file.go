// Package file records broadcast events to disk
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/framerelay/broadcast"
	"github.com/c360/framerelay/component"
	"github.com/c360/framerelay/diagnostic"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/processor/parser"
)

// Formats
const (
	FormatJSONL = "jsonl"
	FormatRaw   = "raw"
)

// Config holds configuration for the event recorder
type Config struct {
	Directory     string        `json:"directory"`
	FilePrefix    string        `json:"file_prefix"`
	Format        string        `json:"format"`
	Append        bool          `json:"append"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.FilePrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "file_prefix is required")
	}
	if c.Format != FormatJSONL && c.Format != FormatRaw {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: jsonl, raw")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	if c.FlushInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"flush_interval cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the recorder
func DefaultConfig() Config {
	return Config{
		Directory:     "recordings",
		FilePrefix:    "events",
		Format:        FormatJSONL,
		Append:        true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// Record is one line of a jsonl recording
type Record struct {
	Seq        uint64          `json:"seq"`
	Topic      string          `json:"topic"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Hub is the part of broadcast.Hub the recorder needs.
type Hub interface {
	Subscribe(sub broadcast.Subscriber) error
	Unsubscribe(id string) error
	Subscribers() []string
	Topic() string
}

// Recorder subscribes to the hub and appends every event to a file
type Recorder struct {
	id     string
	config Config
	path   string
	hub    Hub
	logger *slog.Logger
	diag   diagnostic.Sink

	// File handling
	file   *os.File
	fileMu sync.Mutex

	// Buffer for batching writes; accepting is cleared before the final flush
	buffer    [][]byte
	accepting bool
	bufferMu  sync.Mutex

	// Lifecycle management
	shutdown    chan struct{}
	running     atomic.Bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	// Metrics
	eventsWritten atomic.Int64
	bytesWritten  atomic.Int64
	errors        atomic.Int64
	writeFailing  atomic.Bool
	lastActivity  time.Time
	lastError     string
}

var (
	_ broadcast.Subscriber         = (*Recorder)(nil)
	_ component.LifecycleComponent = (*Recorder)(nil)
)

// NewRecorder creates a recorder for hub's topic
func NewRecorder(cfg Config, hub Hub, deps component.Dependencies) (*Recorder, error) {
	if hub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Recorder", "NewRecorder", "hub is required")
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Recorder{
		id:     "recorder-" + broadcast.NewSubscriberID(),
		config: cfg,
		path:   filepath.Join(cfg.Directory, fmt.Sprintf("%s.%s", cfg.FilePrefix, cfg.Format)),
		hub:    hub,
		logger: deps.GetLoggerWithComponent("recorder"),
		diag:   deps.GetDiagnostics(),
	}, nil
}

// ID implements broadcast.Subscriber
func (r *Recorder) ID() string {
	return r.id
}

// Path returns the recording file path
func (r *Recorder) Path() string {
	return r.path
}

// Deliver encodes one event and buffers it for the next flush. It fails once
// Stop has begun, so nothing lands in the buffer after the final flush.
func (r *Recorder) Deliver(_ context.Context, ev parser.Event) error {
	data, err := r.encode(ev)
	if err != nil {
		r.recordError(fmt.Sprintf("record: encode event %d: %v", ev.Seq, err))
		return nil
	}

	r.bufferMu.Lock()
	if !r.accepting {
		r.bufferMu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Recorder", "Deliver", "buffer event")
	}
	r.buffer = append(r.buffer, data)
	shouldFlush := len(r.buffer) >= r.config.BufferSize
	r.bufferMu.Unlock()

	if shouldFlush {
		r.flush()
	}

	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
	return nil
}

func (r *Recorder) encode(ev parser.Event) ([]byte, error) {
	if r.config.Format == FormatRaw {
		line := make([]byte, 0, len(ev.Raw)+1)
		line = append(line, ev.Raw...)
		return append(line, '\n'), nil
	}

	data, err := json.Marshal(Record{
		Seq:        ev.Seq,
		Topic:      r.hub.Topic(),
		ReceivedAt: ev.ReceivedAt,
		Payload:    ev.Raw,
	})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Start opens the recording file and subscribes to the hub
func (r *Recorder) Start(_ context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Recorder", "Start", "check running state")
	}

	if err := os.MkdirAll(r.config.Directory, 0o755); err != nil {
		return errors.WrapFatal(err, "Recorder", "Start", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if r.config.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(r.path, flags, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Recorder", "Start", "open output file")
	}

	r.fileMu.Lock()
	r.file = f
	r.fileMu.Unlock()

	r.setAccepting(true)
	if err := r.hub.Subscribe(r); err != nil {
		r.setAccepting(false)
		r.closeFile()
		return errors.Wrap(err, "Recorder", "Start", "subscribe to hub")
	}

	r.shutdown = make(chan struct{})
	r.wg.Add(1)
	go r.flushLoop(r.shutdown)

	r.mu.Lock()
	r.startTime = time.Now()
	r.mu.Unlock()
	r.running.Store(true)

	r.logger.Info("Event recorder started",
		"path", r.path,
		"format", r.config.Format,
		"append", r.config.Append,
		"buffer_size", r.config.BufferSize)
	return nil
}

// Stop unsubscribes, flushes what is buffered and closes the file
func (r *Recorder) Stop(timeout time.Duration) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.running.CompareAndSwap(true, false) {
		return nil
	}

	if err := r.hub.Unsubscribe(r.id); err != nil && !errors.IsInvalid(err) {
		r.logger.Warn("Failed to unsubscribe recorder", "error", err)
	}
	// A Deliver already past the hub either buffered before this point and is
	// written by the flush below, or is refused.
	r.setAccepting(false)

	close(r.shutdown)
	waitCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Recorder", "Stop", "shutdown")
	}

	r.flush()
	r.closeFile()

	r.logger.Info("Event recorder stopped",
		"path", r.path,
		"events_written", r.eventsWritten.Load(),
		"errors", r.errors.Load())
	return nil
}

// subscribed reports whether the hub still holds the recorder. A slow disk
// can get it removed under the disconnect policy.
func (r *Recorder) subscribed() bool {
	for _, id := range r.hub.Subscribers() {
		if id == r.id {
			return true
		}
	}
	return false
}

func (r *Recorder) setAccepting(v bool) {
	r.bufferMu.Lock()
	r.accepting = v
	r.bufferMu.Unlock()
}

func (r *Recorder) closeFile() {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	if r.file == nil {
		return
	}
	if err := r.file.Close(); err != nil {
		r.logger.Warn("failed to close output file", "error", err, "path", r.path)
	}
	r.file = nil
}

// flushLoop periodically flushes the buffer
func (r *Recorder) flushLoop(shutdown <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

// flush writes buffered events to the file
func (r *Recorder) flush() {
	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return
	}
	events := r.buffer
	r.buffer = make([][]byte, 0, r.config.BufferSize)
	r.bufferMu.Unlock()

	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	if r.file == nil {
		r.errors.Add(int64(len(events)))
		r.logger.Error("File handle is nil during flush", "events_lost", len(events))
		return
	}

	for _, data := range events {
		n, err := r.file.Write(data)
		if err != nil {
			r.recordError(fmt.Sprintf("record: write %s: %v", r.path, err))
			continue
		}
		r.eventsWritten.Add(1)
		r.bytesWritten.Add(int64(n))
		if r.writeFailing.CompareAndSwap(true, false) {
			r.logger.Info("Recorder writes recovered", "path", r.path)
		}
	}
}

// recordError counts a lost event and reports the first of a failing run
func (r *Recorder) recordError(msg string) {
	r.errors.Add(1)
	r.mu.Lock()
	r.lastError = msg
	r.mu.Unlock()
	if r.writeFailing.CompareAndSwap(false, true) {
		r.logger.Error("Recorder failing", "error", msg)
		r.diag.Error(diagnostic.ContextDeliver, msg)
	}
}

// EventsWritten returns how many events reached the file
func (r *Recorder) EventsWritten() int64 {
	return r.eventsWritten.Load()
}

// Meta returns component metadata
func (r *Recorder) Meta() component.Metadata {
	return component.Metadata{
		Name:        "recorder",
		Type:        "output",
		Description: fmt.Sprintf("Records events to %s", r.path),
		Version:     "1.0.0",
	}
}

// Health returns the current health status
func (r *Recorder) Health() component.HealthStatus {
	r.mu.RLock()
	startTime := r.startTime
	lastError := r.lastError
	r.mu.RUnlock()

	r.fileMu.Lock()
	open := r.file != nil
	r.fileMu.Unlock()

	running := r.running.Load() && open && r.subscribed()
	failing := r.writeFailing.Load()
	hs := component.HealthStatus{
		Healthy:    running && !failing,
		Degraded:   running && failing,
		LastCheck:  time.Now(),
		ErrorCount: int(r.errors.Load()),
		LastError:  lastError,
	}
	if !startTime.IsZero() {
		hs.Uptime = time.Since(startTime)
	}
	return hs
}

// DataFlow returns current data flow metrics
func (r *Recorder) DataFlow() component.FlowMetrics {
	r.mu.RLock()
	startTime := r.startTime
	lastActivity := r.lastActivity
	r.mu.RUnlock()

	written := r.eventsWritten.Load()
	errorCount := r.errors.Load()

	fm := component.Flow(startTime, written, r.bytesWritten.Load(), errorCount, written+errorCount)
	fm.LastActivity = lastActivity
	return fm
}
