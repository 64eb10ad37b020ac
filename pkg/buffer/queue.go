package buffer

import (
	stderrors "errors"
	"sync"

	"github.com/c360/framerelay/errors"
)

// ErrFull is returned by Push when a Reject queue is at capacity.
var ErrFull = stderrors.New("buffer full")

// Policy decides what Push does when the queue is at capacity.
type Policy int

const (
	// DropOldest evicts the head so the new item always fits.
	DropOldest Policy = iota
	// Reject refuses the new item with ErrFull.
	Reject
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithPolicy sets the overflow policy. The default is DropOldest.
func WithPolicy[T any](p Policy) Option[T] {
	return func(q *Queue[T]) { q.policy = p }
}

// OnEvict registers fn for every item removed without being popped, by
// DropOldest or by Drain. fn runs outside the queue lock.
func OnEvict[T any](fn func(T)) Option[T] {
	return func(q *Queue[T]) { q.onEvict = fn }
}

// Counters is a point-in-time copy of a queue's activity.
type Counters struct {
	Pushed    int64 `json:"pushed"`
	Popped    int64 `json:"popped"`
	Evicted   int64 `json:"evicted"`
	Rejected  int64 `json:"rejected"`
	Len       int   `json:"len"`
	HighWater int   `json:"high_water"`
}

// Queue is a bounded FIFO over a fixed ring. Any number of goroutines may
// push; consumers wait on Ready and pop until empty.
type Queue[T any] struct {
	policy  Policy
	onEvict func(T)
	ready   chan struct{}

	mu     sync.Mutex
	ring   []T
	start  int
	n      int
	closed bool
	count  Counters
}

// New returns a queue holding up to capacity items. A capacity below one is
// raised to one.
func New[T any](capacity int, opts ...Option[T]) *Queue[T] {
	q := &Queue[T]{
		ring:  make([]T, max(capacity, 1)),
		ready: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends item. It fails with ErrFull under Reject and with an invalid
// error once the queue is closed.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Push", "queue closed")
	}

	var evicted []T
	if q.n == len(q.ring) {
		if q.policy == Reject {
			q.count.Rejected++
			q.mu.Unlock()
			return ErrFull
		}
		head, _ := q.popLocked()
		q.count.Evicted++
		evicted = append(evicted, head)
	}

	q.ring[(q.start+q.n)%len(q.ring)] = item
	q.n++
	q.count.Pushed++
	q.count.HighWater = max(q.count.HighWater, q.n)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	q.evict(evicted)
	return nil
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	item := q.ring[q.start]
	q.ring[q.start] = zero
	q.start = (q.start + 1) % len(q.ring)
	q.n--
	return item, true
}

func (q *Queue[T]) evict(items []T) {
	if q.onEvict == nil {
		return
	}
	for _, item := range items {
		q.onEvict(item)
	}
}

// Pop removes the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.popLocked()
	if ok {
		q.count.Popped++
	}
	return item, ok
}

// PopN removes up to n items, oldest first. It returns nil when nothing was
// removed.
func (q *Queue[T]) PopN(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = min(n, q.n)
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i], _ = q.popLocked()
	}
	q.count.Popped += int64(n)
	return out
}

// Snapshot copies the queued items, oldest first, without removing them.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, q.n)
	for i := range out {
		out[i] = q.ring[(q.start+i)%len(q.ring)]
	}
	return out
}

// Drain empties the queue, passing each item to the eviction callback.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	items := make([]T, 0, q.n)
	for {
		item, ok := q.popLocked()
		if !ok {
			break
		}
		items = append(items, item)
	}
	q.start = 0
	q.count.Evicted += int64(len(items))
	q.mu.Unlock()

	q.evict(items)
	return len(items)
}

// Ready is signalled after a push. One signal may cover several pushes, so
// a consumer pops until the queue is empty before waiting again.
func (q *Queue[T]) Ready() <-chan struct{} { return q.ready }

// Len is the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap is the fixed capacity.
func (q *Queue[T]) Cap() int { return len(q.ring) }

// Counters returns the queue's activity so far.
func (q *Queue[T]) Counters() Counters {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := q.count
	c.Len = q.n
	return c
}

// Close refuses further pushes. Queued items can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
