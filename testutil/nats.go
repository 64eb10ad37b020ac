package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Published is one message captured by PublishRecorder.
type Published struct {
	Subject string
	Data    []byte
}

// PublishRecorder stands in for the publishing half of natsclient.Client.
// Every accepted message is kept in order; SetFailure makes Publish fail.
type PublishRecorder struct {
	mu   sync.Mutex
	msgs []Published
	fail error
}

// NewPublishRecorder returns an empty recorder.
func NewPublishRecorder() *PublishRecorder {
	return &PublishRecorder{}
}

// Publish records data under subject, or returns the injected failure.
func (p *PublishRecorder) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.msgs = append(p.msgs, Published{Subject: subject, Data: append([]byte(nil), data...)})
	return nil
}

// SetFailure makes every Publish return err until it is cleared with nil.
func (p *PublishRecorder) SetFailure(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// Messages returns the payloads published on subject, oldest first.
func (p *PublishRecorder) Messages(subject string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, m := range p.msgs {
		if m.Subject == subject {
			out = append(out, m.Data)
		}
	}
	return out
}

// All returns every recorded message across subjects.
func (p *PublishRecorder) All() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.msgs...)
}

// WaitFor blocks until subject has at least n messages and returns them.
// It fails the test after timeout.
func (p *PublishRecorder) WaitFor(t testing.TB, subject string, n int, timeout time.Duration) [][]byte {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		msgs := p.Messages(subject)
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d messages on %s (got %d)", n, subject, len(msgs))
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}
