// Package events provides the in-memory bus that carries pipeline run
// lifecycle notifications to the gateway, the run history and the scheduler.
package events

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType names a kind of event.
type EventType string

const (
	// Run lifecycle
	EventRunStarted  EventType = "run.started"
	EventRunFinished EventType = "run.finished"

	// Stage lifecycle
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"

	// Decision-driven routing
	EventDecision EventType = "run.decision"

	// Ledger mutations
	EventTaskUpdated EventType = "task.updated"

	// Scheduler
	EventScheduleTrigger EventType = "schedule.trigger"

	// Model calls (analytics)
	EventLLMCall EventType = "internal.llm.call"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourcePipeline  EventSource = "pipeline"
	SourceAgent     EventSource = "agent"
	SourceScheduler EventSource = "scheduler"
	SourceGateway   EventSource = "gateway"
	SourceMCP       EventSource = "mcp"
)

// Event is one notification on the bus.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

var eventIDCounter uint64

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

func generateEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}
