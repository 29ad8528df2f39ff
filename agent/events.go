package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventTurnStarted       EventKind = "turn_started"
	EventTextDelta         EventKind = "text_delta"
	EventToolCallRequested EventKind = "tool_call_requested"
	EventToolResult        EventKind = "tool_result"
	EventTurnEnded         EventKind = "turn_ended"
	EventError             EventKind = "error"
)

// Event is a typed event emitted during a streaming run.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// eventEmitter delivers typed events to the host application via a buffered
// channel. Emission never blocks the loop: when the consumer falls behind
// and the buffer fills, events are dropped.
type eventEmitter struct {
	sessionID string
	ch        chan Event
	closed    bool
	mu        sync.Mutex
}

func newEventEmitter(sessionID string, bufferSize int) *eventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &eventEmitter{
		sessionID: sessionID,
		ch:        make(chan Event, bufferSize),
	}
}

// emit sends an event. Events sent after close are silently dropped.
func (e *eventEmitter) emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		// Channel full; drop event to avoid blocking the loop.
	}
}

func (e *eventEmitter) events() <-chan Event {
	return e.ch
}

// closeChan closes the event channel. Safe to call multiple times.
func (e *eventEmitter) closeChan() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
