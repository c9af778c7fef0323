package events

import "time"

// EventType identifies the kind of trace event emitted by the runtime.
type EventType string

const (
	EventStepStart EventType = "step_start"
	EventSnapshot  EventType = "snapshot"
	EventAssert    EventType = "assert"
	EventStepEnd   EventType = "step_end"
	EventTab       EventType = "tab"
	EventEval      EventType = "eval"
	EventRunStart  EventType = "run_start"
	EventRunEnd    EventType = "run_end"
)

// Event is a single trace record. Data holds the kind-specific payload.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates a new Event with the current timestamp.
func NewEvent(typ EventType, stepID string, data map[string]any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		StepID:    stepID,
		Data:      data,
	}
}

// Sink receives trace events in emission order.
type Sink interface {
	Emit(event Event) error
	Close() error
}
