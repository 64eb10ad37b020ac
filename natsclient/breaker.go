package natsclient

import (
	"sync"
	"time"

	"github.com/c360/framerelay/pkg/retry"
)

const initialCircuitBackoff = time.Second

// breaker stops Connect from hammering an unreachable server. After
// threshold failures in a row it opens for the current backoff, and every
// further round of failures doubles the backoff up to the configured cap.
type breaker struct {
	threshold int32
	onChange  func(open bool)

	mu          sync.Mutex
	backoff     *retry.Backoff
	failures    int32
	round       int32
	lastFailure time.Time
	open        bool
	timer       *time.Timer
}

func newBreaker(threshold int32, maxBackoff time.Duration, onChange func(bool)) (*breaker, error) {
	b, err := retry.NewBackoff(retry.Config{
		InitialDelay: min(initialCircuitBackoff, maxBackoff),
		MaxDelay:     maxBackoff,
		Multiplier:   2,
	})
	if err != nil {
		return nil, err
	}
	return &breaker{threshold: threshold, backoff: b, onChange: onChange}, nil
}

// fail records a failed connect. It reports whether this failure tripped a
// closed breaker and, if so, for how long it stays open.
func (b *breaker) fail() (tripped bool, openFor time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.round++
	b.lastFailure = time.Now()
	if b.round < b.threshold {
		return false, 0
	}
	b.round = 0

	openFor = b.backoff.Next()
	if b.open {
		return false, openFor
	}
	b.open = true
	b.timer = time.AfterFunc(openFor, b.halfOpen)
	if b.onChange != nil {
		b.onChange(true)
	}
	return true, openFor
}

// halfOpen lets the next Connect through.
func (b *breaker) halfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

// reset forgets every failure after a successful connect.
func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.round = 0
	b.lastFailure = time.Time{}
	b.backoff.Reset()
	b.closeLocked()
}

func (b *breaker) closeLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.open {
		b.open = false
		if b.onChange != nil {
			b.onChange(false)
		}
	}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *breaker) stats() (failures int32, last time.Time, next time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.lastFailure, b.backoff.Peek()
}
