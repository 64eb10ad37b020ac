package natspub

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/framerelay/broadcast"
	"github.com/c360/framerelay/component"
	"github.com/c360/framerelay/diagnostic"
	"github.com/c360/framerelay/errors"
	"github.com/c360/framerelay/processor/parser"
)

// DefaultSubjectPrefix is used when the config leaves the prefix empty.
const DefaultSubjectPrefix = "framerelay"

// Client is the publishing half of natsclient.Client.
type Client interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Hub is the part of broadcast.Hub the publisher needs.
type Hub interface {
	Subscribe(sub broadcast.Subscriber) error
	Unsubscribe(id string) error
	Topic() string
}

// Config holds publisher settings
type Config struct {
	SubjectPrefix string `json:"subject_prefix"`
	Codec         string `json:"codec"`
}

// Publisher republishes hub events on NATS.
type Publisher struct {
	id      string
	subject string
	client  Client
	hub     Hub
	codec   Codec
	logger  *slog.Logger
	diag    diagnostic.Sink

	running   atomic.Bool
	failing   atomic.Bool
	startTime time.Time

	published    atomic.Int64
	bytes        atomic.Int64
	failed       atomic.Int64
	lastError    atomic.Value // stores string
	lastActivity atomic.Value // stores time.Time
}

var (
	_ broadcast.Subscriber         = (*Publisher)(nil)
	_ component.LifecycleComponent = (*Publisher)(nil)
)

// NewPublisher creates a publisher for hub's topic.
func NewPublisher(cfg Config, client Client, hub Hub, deps component.Dependencies) (*Publisher, error) {
	if client == nil || hub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Publisher", "NewPublisher",
			"NATS client and hub are required")
	}
	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Publisher", "NewPublisher", "select codec")
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	p := &Publisher{
		id:        "natspub-" + broadcast.NewSubscriberID(),
		subject:   prefix + "." + hub.Topic(),
		client:    client,
		hub:       hub,
		codec:     codec,
		logger:    deps.GetLoggerWithComponent("natspub"),
		diag:      deps.GetDiagnostics(),
		startTime: time.Now(),
	}
	p.lastError.Store("")
	p.lastActivity.Store(time.Time{})
	return p, nil
}

// ID implements broadcast.Subscriber
func (p *Publisher) ID() string {
	return p.id
}

// Subject returns the subject events are published on
func (p *Publisher) Subject() string {
	return p.subject
}

// Deliver encodes and publishes one event. Publish failures are absorbed so
// the publisher keeps its hub subscription while NATS is unavailable.
func (p *Publisher) Deliver(ctx context.Context, ev parser.Event) error {
	data, err := p.codec.EncodeEvent(ev)
	if err != nil {
		p.failed.Add(1)
		p.lastError.Store(err.Error())
		p.diag.Error(diagnostic.ContextDeliver,
			fmt.Sprintf("nats: encode event %d as %s: %v", ev.Seq, p.codec.Name(), err))
		return nil
	}

	if err := p.client.Publish(ctx, p.subject, data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.failed.Add(1)
		p.lastError.Store(err.Error())
		if p.failing.CompareAndSwap(false, true) {
			p.logger.Warn("NATS publish failing", "subject", p.subject, "error", err)
			p.diag.Error(diagnostic.ContextDeliver, fmt.Sprintf("nats: publish to %s: %v", p.subject, err))
		}
		return nil
	}

	if p.failing.CompareAndSwap(true, false) {
		p.logger.Info("NATS publish recovered", "subject", p.subject, "lost", p.failed.Load())
	}
	p.published.Add(1)
	p.bytes.Add(int64(len(data)))
	p.lastActivity.Store(time.Now())
	return nil
}

// Start subscribes the publisher to the hub
func (p *Publisher) Start(_ context.Context) error {
	if p.running.Load() {
		return nil
	}
	if err := p.hub.Subscribe(p); err != nil {
		return errors.Wrap(err, "Publisher", "Start", "subscribe to hub")
	}
	p.running.Store(true)
	p.startTime = time.Now()
	p.logger.Info("NATS publisher started", "subject", p.subject, "codec", p.codec.Name())
	return nil
}

// Stop unsubscribes from the hub
func (p *Publisher) Stop(_ time.Duration) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := p.hub.Unsubscribe(p.id); err != nil && !errors.IsInvalid(err) {
		return errors.Wrap(err, "Publisher", "Stop", "unsubscribe from hub")
	}
	return nil
}

// Close is called by the hub when it drops the publisher.
func (p *Publisher) Close() error {
	p.running.Store(false)
	return nil
}

// Meta returns the component metadata
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        "nats-publisher",
		Type:        "output",
		Description: fmt.Sprintf("Publishes events to NATS subject %s (%s)", p.subject, p.codec.Name()),
		Version:     "1.0.0",
	}
}

// Health reports degraded while publishes fail
func (p *Publisher) Health() component.HealthStatus {
	running := p.running.Load()
	failing := p.failing.Load()
	return component.HealthStatus{
		Healthy:    running && !failing,
		Degraded:   running && failing,
		LastCheck:  time.Now(),
		ErrorCount: int(p.failed.Load()),
		LastError:  p.lastError.Load().(string),
		Uptime:     time.Since(p.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (p *Publisher) DataFlow() component.FlowMetrics {
	published := p.published.Load()
	failed := p.failed.Load()

	fm := component.Flow(p.startTime, published, p.bytes.Load(), failed, published+failed)
	fm.LastActivity = p.lastActivity.Load().(time.Time)
	return fm
}
