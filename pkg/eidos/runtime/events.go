// Package runtime – events.go implements an in-memory pub/sub bus for
// lifecycle events. Events are fire-and-forget observability signals:
// consumers (logs, metrics, web UIs) subscribe, but nothing in the
// message-handling path ever waits on them for correctness.
package runtime

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventRunStarted         EventType = "run_started"
	EventRunEnded           EventType = "run_ended"
	EventRunTimeout         EventType = "run_timeout"
	EventRunErrored         EventType = "run_errored"
	EventActionStarted      EventType = "action_started"
	EventActionCompleted    EventType = "action_completed"
	EventEvaluatorCompleted EventType = "evaluator_completed"
	EventResponseDiscarded  EventType = "response_discarded"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// EventListener receives emitted events. Listeners are called
// synchronously during Emit and should stay fast or hand off to a
// goroutine internally.
type EventListener func(Event)

// EventBus is a thread-safe fan-out hub for lifecycle events.
type EventBus struct {
	listeners sync.Map // listener id (uint64) → EventListener
	nextID    atomic.Uint64
	seqByRun  sync.Map // run id → *atomic.Int64
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (b *EventBus) Subscribe(fn EventListener) func() {
	id := b.nextID.Add(1)
	b.listeners.Store(id, fn)
	return func() { b.listeners.Delete(id) }
}

// SubscribeRun registers a listener scoped to one run id.
func (b *EventBus) SubscribeRun(runID string, fn EventListener) func() {
	return b.Subscribe(func(e Event) {
		if e.RunID == runID {
			fn(e)
		}
	})
}

// Emit fans an event out to every listener. Seq is auto-assigned per
// run so subscribers can detect gaps; Timestamp defaults to now.
func (b *EventBus) Emit(e Event) {
	if e.RunID != "" {
		e.Seq = b.runSeq(e.RunID).Add(1)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.listeners.Range(func(_, value any) bool {
		if fn, ok := value.(EventListener); ok {
			fn(e)
		}
		return true
	})
}

// ForgetRun drops the sequence counter for a finished run.
func (b *EventBus) ForgetRun(runID string) {
	b.seqByRun.Delete(runID)
}

func (b *EventBus) runSeq(runID string) *atomic.Int64 {
	if v, ok := b.seqByRun.Load(runID); ok {
		return v.(*atomic.Int64)
	}
	v, _ := b.seqByRun.LoadOrStore(runID, new(atomic.Int64))
	return v.(*atomic.Int64)
}
