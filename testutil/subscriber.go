package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/c360/framerelay/processor/parser"
)

// CollectingSubscriber records every event delivered to it. Set Err to make
// Deliver fail once the subscriber has received FailAfter events.
type CollectingSubscriber struct {
	id string

	mu        sync.Mutex
	events    []parser.Event
	closed    bool
	Err       error
	FailAfter int
}

// NewCollectingSubscriber creates a subscriber with the given id.
func NewCollectingSubscriber(id string) *CollectingSubscriber {
	return &CollectingSubscriber{id: id}
}

func (c *CollectingSubscriber) ID() string { return c.id }

// Deliver implements broadcast.Subscriber.
func (c *CollectingSubscriber) Deliver(_ context.Context, ev parser.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil && len(c.events) >= c.FailAfter {
		return c.Err
	}
	c.events = append(c.events, ev)
	return nil
}

// Close records that the hub released the subscriber.
func (c *CollectingSubscriber) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (c *CollectingSubscriber) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns the delivered events in order.
func (c *CollectingSubscriber) Events() []parser.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]parser.Event(nil), c.events...)
}

// Payloads returns the raw payload of each delivered event.
func (c *CollectingSubscriber) Payloads() []string {
	events := c.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Raw)
	}
	return out
}

// WaitForCount fails the test unless n events arrive within timeout.
func (c *CollectingSubscriber) WaitForCount(t testing.TB, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(c.Events()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber %s: timeout waiting for %d events (got %d)", c.id, n, len(c.Events()))
}
