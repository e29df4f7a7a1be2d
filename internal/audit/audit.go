// Package audit carries the investigation event stream out of the engine.
// Events are delivered to a Sink in the order the engine emits them; sinks
// must not block for long and their failures never reach the engine.
package audit

import (
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventRunStarted          EventType = "run_started"
	EventStepStarted         EventType = "step_started"
	EventToolCalled          EventType = "tool_called"
	EventToolResultReceived  EventType = "tool_result_received"
	EventObservationRecorded EventType = "observation_recorded"
	EventHypothesisCreated   EventType = "hypothesis_created"
	EventHypothesisUpdated   EventType = "hypothesis_updated"
	EventStepCompleted       EventType = "step_completed"
	EventRunCompleted        EventType = "run_completed"
	EventRunFailed           EventType = "run_failed"
	EventRunEscalated        EventType = "run_escalated"
)

// Event represents a single audit log event.
type Event struct {
	// Type is the event type.
	Type EventType `json:"type"`
	// RunID identifies the investigation.
	RunID string `json:"run_id"`
	// StepID is set for events that belong to a step.
	StepID string `json:"step_id,omitempty"`
	// Data contains event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// IsTerminal reports whether the event closes a run.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventRunCompleted, EventRunFailed, EventRunEscalated:
		return true
	}
	return false
}

// Sink receives audit events.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(event Event) { f(event) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(Event) {})

// Fanout delivers each event to every sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(event Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(event)
		}
	}
}

// MemorySink records events in memory. Safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink.
func (m *MemorySink) Emit(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of everything recorded so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the recorded event types in order.
func (m *MemorySink) Types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// ByRun returns the events of one run.
func (m *MemorySink) ByRun(runID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
