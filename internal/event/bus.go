// Package event implements the per-run fan-out of live state-change
// notifications. Subscribers are transient: events are not buffered or
// replayed, so a late joiner must reconstruct current state from a store
// snapshot and will only see events published after it joined.
package event

import (
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Type identifies the kind of state change an event describes.
type Type string

const (
	TypeLog             Type = "log"
	TypeStepStarted     Type = "step_started"
	TypeStepFinished    Type = "step_finished"
	TypeArtifactWritten Type = "artifact_written"
	TypeError           Type = "error"
	TypeStatus          Type = "status"
	TypeGateRequired    Type = "gate_required"
	TypeGateDecision    Type = "gate_decision"
)

// Handler is a subscriber callback. Handlers are invoked synchronously on
// the publishing goroutine; a panicking handler is recovered and logged,
// never propagated back to the publisher.
type Handler func(eventType Type, payload any)

// Bus is a synchronous per-run pub-sub bus. Runs are registered by the
// store when created (or recovered from disk) and deregistered when the
// retention engine destroys them.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler // runID -> subscription id -> handler
	nextID atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[uint64]Handler),
	}
}

// Register makes a run known to the bus so subscribers can attach.
// Registering an already-known run is a no-op.
func (b *Bus) Register(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[runID]; !ok {
		b.subs[runID] = make(map[uint64]Handler)
	}
}

// Deregister drops a run and all of its subscribers.
func (b *Bus) Deregister(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, runID)
}

// Known reports whether the run is registered.
func (b *Bus) Known(runID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[runID]
	return ok
}

// Subscribe attaches a handler to a run's event stream and returns an
// unsubscribe function. Returns nil if the run is not registered.
func (b *Bus) Subscribe(runID string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, ok := b.subs[runID]
	if !ok {
		return nil
	}

	id := b.nextID.Add(1)
	handlers[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if hs, ok := b.subs[runID]; ok {
			delete(hs, id)
		}
	}
}

// SubscriberCount returns the number of handlers attached to a run.
func (b *Bus) SubscriberCount(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[runID])
}

// Publish dispatches an event to every current subscriber of the run,
// synchronously and in no guaranteed order. Publishing to an unknown run
// is a no-op.
func (b *Bus) Publish(runID string, eventType Type, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[runID]))
	for _, h := range b.subs[runID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, runID, eventType, payload)
	}
}

// safeCall invokes a handler and recovers from any panics. Panics are
// logged with stack traces so one misbehaving subscriber cannot break
// event delivery for the publisher or other subscribers.
func (b *Bus) safeCall(h Handler, runID string, eventType Type, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: event handler panicked for run %s event %s: %v\n%s",
				runID, eventType, r, debug.Stack())
		}
	}()
	h(eventType, payload)
}
