package natspub

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/framerelay/diagnostic"
)

// DiagnosticSink publishes diagnostics to "<prefix>.diag.log" and
// "<prefix>.diag.error". It implements diagnostic.Sink.
type DiagnosticSink struct {
	client       Client
	codec        Codec
	logSubject   string
	errorSubject string
	timeout      time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

var _ diagnostic.Sink = (*DiagnosticSink)(nil)

// NewDiagnosticSink creates the sink. Publish failures are logged at debug
// level only; reporting them as diagnostics would feed back into this sink.
func NewDiagnosticSink(cfg Config, client Client, logger *slog.Logger) (*DiagnosticSink, error) {
	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosticSink{
		client:       client,
		codec:        codec,
		logSubject:   prefix + ".diag." + diagnostic.ChannelLog,
		errorSubject: prefix + ".diag." + diagnostic.ChannelError,
		timeout:      5 * time.Second,
		logger:       logger.With("component", "natspub"),
		now:          time.Now,
	}, nil
}

// Log publishes a worker log line
func (s *DiagnosticSink) Log(source, text string) {
	s.publish(s.logSubject, diagnostic.Entry{
		Time:    s.now(),
		Channel: diagnostic.ChannelLog,
		Source:  source,
		Text:    text,
	})
}

// Error publishes a failure
func (s *DiagnosticSink) Error(ctxName, text string) {
	s.publish(s.errorSubject, diagnostic.Entry{
		Time:    s.now(),
		Channel: diagnostic.ChannelError,
		Source:  ctxName,
		Text:    text,
	})
}

func (s *DiagnosticSink) publish(subject string, entry diagnostic.Entry) {
	data, err := s.codec.Marshal(entry)
	if err != nil {
		s.logger.Debug("Diagnostic encode failed", "subject", subject, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, subject, data); err != nil {
		s.logger.Debug("Diagnostic publish failed", "subject", subject, "error", err)
	}
}
