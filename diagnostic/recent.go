package diagnostic

import (
	"time"

	"github.com/c360/framerelay/pkg/buffer"
)

// DefaultRecentCapacity is the number of entries RecentSink keeps by default.
const DefaultRecentCapacity = 200

// RecentSink keeps the most recent diagnostics in memory for the
// diagnostics endpoint. Once full, the oldest entry is evicted.
type RecentSink struct {
	ring *buffer.Queue[Entry]
	now  func() time.Time
}

// NewRecentSink creates a RecentSink holding up to capacity entries.
func NewRecentSink(capacity int) *RecentSink {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RecentSink{
		ring: buffer.New[Entry](capacity),
		now:  time.Now,
	}
}

// Log implements Sink.
func (r *RecentSink) Log(source, text string) {
	r.record(ChannelLog, source, text)
}

// Error implements Sink.
func (r *RecentSink) Error(context, text string) {
	r.record(ChannelError, context, text)
}

func (r *RecentSink) record(channel, source, text string) {
	// DropOldest never rejects and the ring is never closed.
	_ = r.ring.Push(Entry{Time: r.now(), Channel: channel, Source: source, Text: text})
}

// Recent returns the retained entries, oldest first.
func (r *RecentSink) Recent() []Entry {
	return r.ring.Snapshot()
}

// Evicted reports how many entries were pushed out by newer ones.
func (r *RecentSink) Evicted() int64 {
	return r.ring.Counters().Evicted
}
