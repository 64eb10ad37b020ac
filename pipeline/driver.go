package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/c360/framerelay/diagnostic"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/framing"
	"github.com/c360/framerelay/metric"
	"github.com/c360/framerelay/processor/parser"
)

// DefaultChunkSize is the read size used by Run.
const DefaultChunkSize = 32 * 1024

// excerptLen bounds how much of a bad payload is quoted in diagnostics.
const excerptLen = 120

// State is the lifecycle state of a Driver.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Publisher receives decoded events. broadcast.Hub implements it.
type Publisher interface {
	Publish(ev parser.Event) int
}

// Validator checks a decoded event before it is published.
type Validator interface {
	Validate(ev parser.Event) error
}

// Config holds stream settings fixed at startup.
type Config struct {
	Marker       string
	Terminator   byte
	ChunkSize    int
	FlushOnClose bool
}

// DefaultConfig returns the settings matching the worker's wire format.
func DefaultConfig() Config {
	return Config{
		Marker:     framing.DefaultMarker,
		Terminator: framing.DefaultTerminator,
		ChunkSize:  DefaultChunkSize,
	}
}

// Stats counts what a Driver has processed.
type Stats struct {
	Chunks       int64 `json:"chunks"`
	Bytes        int64 `json:"bytes"`
	Lines        int64 `json:"lines"`
	Events       int64 `json:"events"`
	Logs         int64 `json:"logs"`
	DecodeErrors int64 `json:"decode_errors"`
	Rejected     int64 `json:"rejected"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records stream metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

// WithValidator drops events that fail v, reporting them as errors.
func WithValidator(v Validator) Option {
	return func(d *Driver) {
		d.validator = v
	}
}

// WithDecoder replaces the JSON decoder.
func WithDecoder(dec parser.Decoder) Option {
	return func(d *Driver) {
		if dec != nil {
			d.decoder = dec
		}
	}
}

// WithSource sets the source label attached to log lines.
func WithSource(source string) Option {
	return func(d *Driver) {
		if source != "" {
			d.source = source
		}
	}
}

// Driver processes one worker stream. Feed and Close are serialized, so
// concurrent callers still see chunks handled strictly in call order.
type Driver struct {
	cfg        Config
	publisher  Publisher
	diag       diagnostic.Sink
	decoder    parser.Decoder
	validator  Validator
	classifier framing.Classifier
	metrics    *metric.Metrics
	logger     *slog.Logger
	source     string

	mu    sync.Mutex
	reasm *framing.Reassembler
	seq   uint64
	state atomic.Int32

	chunks, bytes, lines, events, logs, decodeErrs, rejected atomic.Int64
}

// NewDriver creates a Driver publishing to pub and reporting to sink.
// Zero-valued config fields take their defaults; pub is required.
func NewDriver(cfg Config, pub Publisher, sink diagnostic.Sink, opts ...Option) (*Driver, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Driver", "NewDriver", "publisher is required")
	}
	def := DefaultConfig()
	if cfg.Marker == "" {
		cfg.Marker = def.Marker
	}
	if cfg.Terminator == 0 {
		cfg.Terminator = def.Terminator
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if sink == nil {
		sink = diagnostic.Discard
	}

	d := &Driver{
		cfg:        cfg,
		publisher:  pub,
		diag:       sink,
		decoder:    parser.NewJSONDecoder(),
		classifier: framing.NewClassifier(cfg.Marker),
		logger:     slog.Default(),
		source:     diagnostic.SourceWorker,
		reasm:      framing.NewReassembler(cfg.Terminator),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "pipeline")
	return d, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Stats returns a snapshot of the driver counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Chunks:       d.chunks.Load(),
		Bytes:        d.bytes.Load(),
		Lines:        d.lines.Load(),
		Events:       d.events.Load(),
		Logs:         d.logs.Load(),
		DecodeErrors: d.decodeErrs.Load(),
		Rejected:     d.rejected.Load(),
	}
}

// Feed processes one chunk of worker output. It fails only once the Driver
// is closed; problems with individual lines are reported to the sink.
func (d *Driver) Feed(chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.State() {
	case StateClosed:
		return errors.ErrStreamClosed
	case StateIdle:
		d.state.Store(int32(StateStreaming))
		d.logger.Debug("Stream started")
	}

	d.chunks.Add(1)
	d.bytes.Add(int64(len(chunk)))
	d.metrics.RecordChunk(len(chunk))

	for _, line := range d.reasm.Feed(chunk) {
		d.processLine(line)
	}
	return nil
}

// Close ends the stream. The unterminated remainder, if any, is processed
// as a final line when FlushOnClose is set and discarded otherwise.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.State() == StateClosed {
		return nil
	}

	if d.cfg.FlushOnClose {
		if line, ok := d.reasm.Flush(); ok {
			d.processLine(line)
		}
	} else if n := len(d.reasm.Pending()); n > 0 {
		d.logger.Debug("Discarding unterminated trailing line", "bytes", n)
		d.metrics.RecordDiscardedPartial()
	}
	d.reasm.Reset()

	d.state.Store(int32(StateClosed))
	d.logger.Debug("Stream closed", "events", d.events.Load(), "decode_errors", d.decodeErrs.Load())
	return nil
}

// processLine handles one completed line. Caller holds mu.
func (d *Driver) processLine(line string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic while processing line", "panic", r)
			d.diag.Error(diagnostic.ContextPanic, fmt.Sprintf("line processing panicked: %v", r))
		}
	}()

	frame := d.classifier.Classify(line)
	d.metrics.RecordLine(frame.Kind.String())

	switch frame.Kind {
	case framing.KindNone:
		return
	case framing.KindLog:
		d.lines.Add(1)
		d.logs.Add(1)
		d.diag.Log(d.source, frame.Text)
	case framing.KindData:
		d.lines.Add(1)
		d.handleData(frame.Text)
	}
}

func (d *Driver) handleData(payload string) {
	ev, err := d.decoder.Decode(payload)
	if err != nil {
		d.decodeErrs.Add(1)
		d.metrics.RecordDecodeError()
		d.diag.Error(diagnostic.ContextDecode, describeDecodeError(err))
		return
	}

	if d.validator != nil {
		if err := d.validator.Validate(ev); err != nil {
			d.rejected.Add(1)
			d.metrics.RecordRejected()
			d.diag.Error(diagnostic.ContextSchema, err.Error())
			return
		}
	}

	d.seq++
	ev.Seq = d.seq
	d.events.Add(1)
	d.publisher.Publish(ev)
}

func describeDecodeError(err error) string {
	var de *parser.DecodeError
	if stderrors.As(err, &de) {
		return de.Error() + " payload=" + strconv.Quote(de.Excerpt(excerptLen))
	}
	return err.Error()
}

// Run reads r in ChunkSize reads and feeds each chunk until EOF, a read
// error, or ctx ends, then closes the Driver. EOF is a normal end of stream
// and returns nil.
func (d *Driver) Run(ctx context.Context, r io.Reader) error {
	defer d.Close()

	buf := make([]byte, d.cfg.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := d.Feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.WrapTransient(err, "Driver", "Run", "read worker stream")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// RunErrorStream forwards r to the sink's error channel chunk by chunk, with
// no framing, until EOF or a read error.
func (d *Driver) RunErrorStream(ctx context.Context, r io.Reader) error {
	buf := make([]byte, d.cfg.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			d.diag.Error(diagnostic.ContextStderr, string(buf[:n]))
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.WrapTransient(err, "Driver", "RunErrorStream", "read worker error stream")
		}
	}
}
