// Package events provides the typed lifecycle event emitter owned by the
// sync engine.
//
// Subscribers are independent: the engine fires and forgets, and a slow or
// absent subscriber never blocks a sync pass. Events are dropped for a
// subscriber whose buffer is full.
package events

import (
	"sync"
	"time"
)

// Type names a lifecycle event.
type Type string

const (
	// SyncStarted fires when a drain pass begins.
	SyncStarted Type = "sync-started"
	// SyncCompleted fires after a drain pass and reconciliation download
	// finish.
	SyncCompleted Type = "sync-completed"
	// SyncFailed fires when a pass hits a non-retryable error class.
	SyncFailed Type = "sync-failed"
	// DataChanged fires when local records changed (user action or
	// reconciliation download), so UI layers can refresh.
	DataChanged Type = "data-changed"
)

// Event is one lifecycle notification.
type Event struct {
	Type   Type
	Reason string // set for SyncFailed
	At     time.Time
}

const subscriberBuffer = 16

// Emitter fans events out to any number of subscribers.
type Emitter struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the subscription; the channel is closed afterwards.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextID
	e.nextID++
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Emit delivers an event to every subscriber without blocking. The
// timestamp is filled in if unset.
func (e *Emitter) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; drop rather than stall the engine.
		}
	}
}

// Close closes all subscriber channels. Further Emit calls are no-ops.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
