package testutil

import (
	"sync"
)

// Record is one diagnostic call captured by RecordingSink.
type Record struct {
	Channel string // "log" or "error"
	Source  string
	Text    string
}

// RecordingSink implements diagnostic.Sink by recording every call.
type RecordingSink struct {
	mu      sync.Mutex
	records []Record
}

// NewRecordingSink creates an empty RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Log(source, text string) {
	s.add(Record{Channel: "log", Source: source, Text: text})
}

func (s *RecordingSink) Error(context, text string) {
	s.add(Record{Channel: "error", Source: context, Text: text})
}

func (s *RecordingSink) add(r Record) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

// Records returns every call in order.
func (s *RecordingSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Logs returns the text of every Log call.
func (s *RecordingSink) Logs() []string {
	return s.texts("log", "")
}

// Errors returns the text of every Error call.
func (s *RecordingSink) Errors() []string {
	return s.texts("error", "")
}

// ErrorsFor returns the text of Error calls made with the given context.
func (s *RecordingSink) ErrorsFor(context string) []string {
	return s.texts("error", context)
}

func (s *RecordingSink) texts(channel, source string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.records {
		if r.Channel == channel && (source == "" || r.Source == source) {
			out = append(out, r.Text)
		}
	}
	return out
}
