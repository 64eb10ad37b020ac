// Package broadcast fans decoded events out to live subscribers.
//
// The Hub owns the subscriber set. Publish snapshots the set and enqueues the
// event on every subscriber's own bounded queue without blocking; a goroutine
// per subscriber drains its queue in order. A failing or slow subscriber is
// removed without affecting anyone else.
package broadcast

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/framerelay/diagnostic"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/metric"
	"github.com/c360/framerelay/pkg/buffer"
	"github.com/c360/framerelay/processor/parser"
)

// Subscriber receives broadcast events. Deliver is called from a single
// goroutine per subscriber, in publish order. A returned error removes the
// subscriber from the hub.
type Subscriber interface {
	ID() string
	Deliver(ctx context.Context, ev parser.Event) error
}

// Closer is implemented by subscribers holding a resource to release once the
// hub has removed them.
type Closer interface {
	Close() error
}

// NewSubscriberID returns a fresh random subscriber identity.
func NewSubscriberID() string {
	return uuid.NewString()
}

// Policy selects what happens when a subscriber's queue is full.
type Policy string

const (
	// PolicyDisconnect removes the subscriber, so it never sees a gap.
	PolicyDisconnect Policy = "disconnect"
	// PolicyDropOldest keeps the subscriber and discards its oldest queued
	// event, so the subscriber sees a gap. The first eviction of each lossy run
	// is reported on the diagnostic error channel.
	PolicyDropOldest Policy = "drop_oldest"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == PolicyDisconnect || p == PolicyDropOldest
}

// Removal reasons, used in logs and diagnostics.
const (
	ReasonUnsubscribed   = "unsubscribed"
	ReasonDeliveryFailed = "delivery_failed"
	ReasonSlowConsumer   = "slow_consumer"
	ReasonHubClosed      = "hub_closed"
)

// Config holds hub settings.
type Config struct {
	// Topic names the broadcast channel for transports.
	Topic string `json:"topic" yaml:"topic"`
	// QueueSize bounds each subscriber's pending events.
	QueueSize int `json:"queue_size" yaml:"queue_size"`
	// SlowConsumer picks the policy applied when a queue is full.
	SlowConsumer Policy `json:"slow_consumer" yaml:"slow_consumer"`
	// DeliverTimeout bounds a single Deliver call; zero means no limit.
	DeliverTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		Topic:          "video_frame",
		QueueSize:      64,
		SlowConsumer:   PolicyDisconnect,
		DeliverTimeout: 10 * time.Second,
	}
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithDiagnostics routes delivery failures to sink.
func WithDiagnostics(sink diagnostic.Sink) Option {
	return func(h *Hub) {
		if sink != nil {
			h.diag = sink
		}
	}
}

// WithMetrics records deliveries and subscriber counts.
func WithMetrics(m *metric.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

type subscription struct {
	sub        Subscriber
	queue      *buffer.Queue[parser.Event]
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	removeOnce sync.Once

	// lossy is set from the first eviction until the queue drains again.
	lossy   atomic.Bool
	dropped atomic.Int64
}

// Hub is the broadcast sink. It is safe for concurrent use.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	diag    diagnostic.Sink
	metrics *metric.Metrics

	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub. Zero-valued config fields take their defaults.
func NewHub(cfg Config, opts ...Option) *Hub {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if !cfg.SlowConsumer.Valid() {
		cfg.SlowConsumer = def.SlowConsumer
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:    cfg,
		logger: slog.Default(),
		diag:   diagnostic.Discard,
		subs:   make(map[string]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "broadcast")
	return h
}

// Topic returns the configured broadcast topic.
func (h *Hub) Topic() string {
	return h.cfg.Topic
}

// Subscribe registers sub. It receives every event published from now on.
func (h *Hub) Subscribe(sub Subscriber) error {
	policy := buffer.Reject
	if h.cfg.SlowConsumer == PolicyDropOldest {
		policy = buffer.DropOldest
	}

	s := &subscription{
		sub:  sub,
		done: make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(h.ctx)
	s.queue = buffer.New[parser.Event](h.cfg.QueueSize,
		buffer.WithPolicy[parser.Event](policy),
		buffer.OnEvict[parser.Event](func(ev parser.Event) {
			h.dropped(s, ev)
		}),
	)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.cancel()
		return errors.WrapFatal(errors.ErrHubClosed, "Hub", "Subscribe", "register subscriber")
	}
	if _, exists := h.subs[sub.ID()]; exists {
		h.mu.Unlock()
		s.cancel()
		return errors.WrapInvalid(fmt.Errorf("subscriber %s already registered", sub.ID()),
			"Hub", "Subscribe", "register subscriber")
	}
	h.subs[sub.ID()] = s
	count := len(h.subs)
	h.wg.Add(1)
	h.mu.Unlock()

	h.metrics.RecordSubscribers(count)
	h.logger.Debug("Subscriber registered", "subscriber", sub.ID(), "subscribers", count)

	go h.deliverLoop(s)
	return nil
}

// Unsubscribe removes the subscriber with the given id. Events still queued
// for it are discarded and an in-flight Deliver sees its context canceled.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.RLock()
	s, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownSubscriber, "Hub", "Unsubscribe", "remove "+id)
	}
	h.remove(s, ReasonUnsubscribed, nil)
	return nil
}

// Publish enqueues ev for every subscriber registered at the time of the call
// and returns how many accepted it. It never blocks on subscriber I/O. Under
// drop_oldest a full queue still accepts ev by evicting an older event.
func (h *Hub) Publish(ev parser.Event) int {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0
	}
	snapshot := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	h.metrics.RecordPublished()

	accepted := 0
	for _, s := range snapshot {
		err := s.queue.Push(ev)
		switch {
		case err == nil:
			accepted++
		case stderrors.Is(err, buffer.ErrFull):
			h.remove(s, ReasonSlowConsumer, errors.ErrSlowConsumer)
		default:
			// queue closed by a concurrent removal
		}
	}
	return accepted
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscribers returns the ids of registered subscribers in no particular order.
func (h *Hub) Subscribers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	return ids
}

// Close removes every subscriber and waits for their delivery goroutines to
// exit, or for ctx to end. Subscribe fails afterwards.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	all := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		all = append(all, s)
	}
	h.mu.Unlock()

	for _, s := range all {
		h.remove(s, ReasonHubClosed, nil)
	}
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Hub", "Close", "wait for delivery goroutines")
	}
}

func (h *Hub) remove(s *subscription, reason string, cause error) {
	s.removeOnce.Do(func() {
		h.mu.Lock()
		if cur, ok := h.subs[s.sub.ID()]; ok && cur == s {
			delete(h.subs, s.sub.ID())
		}
		count := len(h.subs)
		h.mu.Unlock()

		s.queue.Close()
		close(s.done)
		s.cancel()
		h.metrics.RecordSubscribers(count)

		if cause == nil {
			h.logger.Debug("Subscriber removed", "subscriber", s.sub.ID(), "reason", reason)
			return
		}
		h.logger.Warn("Subscriber removed", "subscriber", s.sub.ID(), "reason", reason, "error", cause)
		h.diag.Error(diagnostic.ContextDeliver,
			fmt.Sprintf("subscriber %s removed (%s): %v", s.sub.ID(), reason, cause))
	})
}

// dropped accounts for an event evicted from a full drop_oldest queue.
func (h *Hub) dropped(s *subscription, ev parser.Event) {
	h.metrics.RecordDelivery(metric.DeliveryDropped)
	s.dropped.Add(1)
	if !s.lossy.CompareAndSwap(false, true) {
		return
	}
	h.logger.Warn("Subscriber dropping events", "subscriber", s.sub.ID(), "seq", ev.Seq,
		"queue_size", h.cfg.QueueSize)
	h.diag.Error(diagnostic.ContextDeliver,
		fmt.Sprintf("subscriber %s dropping events (%s): queue full, event %d discarded",
			s.sub.ID(), ReasonSlowConsumer, ev.Seq))
}

// caughtUp closes a lossy run once the subscriber has emptied its queue.
func (h *Hub) caughtUp(s *subscription) {
	if s.queue.Len() > 0 || !s.lossy.CompareAndSwap(true, false) {
		return
	}
	h.logger.Info("Subscriber caught up", "subscriber", s.sub.ID(), "dropped_total", s.dropped.Load())
}

func (h *Hub) deliverLoop(s *subscription) {
	defer h.wg.Done()
	defer func() {
		if c, ok := s.sub.(Closer); ok {
			if err := c.Close(); err != nil {
				h.logger.Debug("Subscriber close failed", "subscriber", s.sub.ID(), "error", err)
			}
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case <-s.queue.Ready():
		}

		for {
			select {
			case <-s.done:
				return
			default:
			}

			ev, ok := s.queue.Pop()
			if !ok {
				break
			}
			if err := h.deliver(s, ev); err != nil {
				select {
				case <-s.done:
					// removed while delivering; the removal already reported why
					return
				default:
				}
				h.metrics.RecordDelivery(metric.DeliveryFailed)
				h.remove(s, ReasonDeliveryFailed,
					errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrDeliveryFailed, err),
						"Hub", "deliver", "deliver event"))
				return
			}
			h.metrics.RecordDelivery(metric.DeliveryOK)
			h.caughtUp(s)
		}
	}
}

func (h *Hub) deliver(s *subscription, ev parser.Event) (err error) {
	ctx := s.ctx
	if h.cfg.DeliverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.DeliverTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.sub.Deliver(ctx, ev)
}
