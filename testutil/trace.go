package testutil

import (
	"sync"

	"github.com/c360/framerelay/processor/parser"
)

// Step is one observable output of a pipeline.
type Step struct {
	Kind string // "broadcast", "log" or "error"
	Text string // payload, log text, or the error context
}

// Trace records publishes and diagnostics into a single ordered list. It
// satisfies both the pipeline's publisher and diagnostic.Sink.
type Trace struct {
	mu    sync.Mutex
	steps []Step
}

// Publish records the raw payload of ev.
func (t *Trace) Publish(ev parser.Event) int {
	t.add(Step{Kind: "broadcast", Text: string(ev.Raw)})
	return 1
}

func (t *Trace) Log(_, text string) {
	t.add(Step{Kind: "log", Text: text})
}

func (t *Trace) Error(context, text string) {
	t.add(Step{Kind: "error", Text: context})
}

func (t *Trace) add(s Step) {
	t.mu.Lock()
	t.steps = append(t.steps, s)
	t.mu.Unlock()
}

// Steps returns everything recorded, in order.
func (t *Trace) Steps() []Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Step(nil), t.steps...)
}
