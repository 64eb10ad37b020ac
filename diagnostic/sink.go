// Package diagnostic routes the worker's non-data output to operators.
//
// A Sink has two independent channels. Log receives worker log lines and
// Error receives decode failures, delivery failures and the worker's error
// stream. Each implementation keeps arrival order within a channel.
package diagnostic

import (
	"time"
)

// Channel names used in entries, metrics and NATS subjects.
const (
	ChannelLog   = "log"
	ChannelError = "error"
)

// Well-known sources and contexts.
const (
	SourceWorker   = "worker"
	ContextStderr  = "stderr"
	ContextDecode  = "decode"
	ContextDeliver = "delivery"
	ContextSchema  = "schema"
	ContextPanic   = "panic"
	ContextWorker  = "worker"
)

// Sink receives diagnostic text. Implementations must be safe for concurrent use.
type Sink interface {
	// Log records a worker log line or other informational text.
	Log(source, text string)
	// Error records a failure; context names what failed.
	Error(context, text string)
}

// Entry is one recorded diagnostic.
type Entry struct {
	Time    time.Time `json:"time"`
	Channel string    `json:"channel"`
	Source  string    `json:"source"`
	Text    string    `json:"text"`
}

type multiSink []Sink

// Multi returns a Sink that forwards every call to each of sinks in order.
// Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Log(source, text string) {
	for _, s := range m {
		s.Log(source, text)
	}
}

func (m multiSink) Error(context, text string) {
	for _, s := range m {
		s.Error(context, text)
	}
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(string, string)   {}
func (discard) Error(string, string) {}
