// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (session loop, dispatcher,
// API server) to subscribers (WebSocket handler, future metrics
// collector). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceSession identifies events from the session loop.
	SourceSession = "session"
	// SourceDispatch identifies events from capability dispatch.
	SourceDispatch = "dispatch"
	// SourceAPI identifies events from the HTTP API layer.
	SourceAPI = "api"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a user turn.
	// Data: session_id, text_len.
	KindTurnStart = "turn_start"
	// KindRoundStart signals the beginning of a model round.
	// Data: session_id, round.
	KindRoundStart = "round_start"
	// KindModelCall signals completion of a model backend call.
	// Data: session_id, round, model, prompt_tokens, output_tokens.
	KindModelCall = "model_call"
	// KindCallDispatched signals the start of a capability execution.
	// Data: session_id, capability.
	KindCallDispatched = "call_dispatched"
	// KindCallDone signals completion of a capability execution.
	// Data: session_id, capability, ok, duration_ms.
	KindCallDone = "call_done"
	// KindEvicted signals messages were evicted to fit the token budget.
	// Data: session_id, evicted, total_tokens.
	KindEvicted = "evicted"
	// KindTurnComplete signals the end of a user turn.
	// Data: session_id, rounds, state, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindSessionCreated signals a new session opened over the API.
	// Data: session_id.
	KindSessionCreated = "session_created"
	// KindSessionRemoved signals a session deleted over the API.
	// Data: session_id.
	KindSessionRemoved = "session_removed"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full, drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
