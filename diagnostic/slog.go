package diagnostic

import (
	"context"
	"log/slog"
	"strings"
)

// SlogSink writes diagnostics to a structured logger.
//
// Log lines are written at Info. Errors are written at Error, except text
// from the worker's error stream, whose level comes from the marker it carries
// (see StderrLevel).
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a SlogSink writing to logger, or slog.Default() if nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "diagnostic")}
}

// Log implements Sink.
func (s *SlogSink) Log(source, text string) {
	s.logger.Info(text, "source", source)
}

// Error implements Sink.
func (s *SlogSink) Error(ctxName, text string) {
	if ctxName != ContextStderr {
		s.logger.Error(text, "context", ctxName)
		return
	}

	for _, line := range strings.Split(strings.TrimRight(text, "\r\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.logger.Log(context.Background(), StderrLevel(line), line, "context", ctxName, "source", SourceWorker)
	}
}

// StderrLevel maps a worker stderr line to a log level by its level marker.
func StderrLevel(line string) slog.Level {
	switch {
	case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"),
		strings.Contains(line, "Traceback"):
		return slog.LevelError
	case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
		return slog.LevelWarn
	case strings.Contains(line, "[DEBUG]"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
