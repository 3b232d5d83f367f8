package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// RUN EVENTS
// =============================================================================

type RunStartedPayload struct {
	Mode    string `json:"mode"`
	Trigger string `json:"trigger,omitempty"` // cli, schedule, gateway, mcp
	Topic   string `json:"topic,omitempty"`
}

func (RunStartedPayload) EventType() EventType { return EventRunStarted }

type RunFinishedPayload struct {
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
	Steps    int           `json:"steps"`
	Duration time.Duration `json:"duration"`
}

func (RunFinishedPayload) EventType() EventType { return EventRunFinished }

// =============================================================================
// STAGE EVENTS
// =============================================================================

type StageStartedPayload struct {
	Stage string `json:"stage"`
	Step  int    `json:"step"`
}

func (StageStartedPayload) EventType() EventType { return EventStageStarted }

type StageCompletedPayload struct {
	Stage     string        `json:"stage"`
	Step      int           `json:"step"`
	Outcome   string        `json:"outcome"`
	Processed []int         `json:"processed,omitempty"`
	Failed    []int         `json:"failed,omitempty"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func (StageCompletedPayload) EventType() EventType { return EventStageCompleted }

type DecisionPayload struct {
	Step     int    `json:"step"`
	Decision string `json:"decision"`
	Error    string `json:"error,omitempty"`
}

func (DecisionPayload) EventType() EventType { return EventDecision }

type TaskUpdatedPayload struct {
	TaskID int    `json:"task_id"`
	Field  string `json:"field"`
}

func (TaskUpdatedPayload) EventType() EventType { return EventTaskUpdated }

// =============================================================================
// SCHEDULER / INTERNAL EVENTS
// =============================================================================

type ScheduleTriggerPayload struct {
	Cron    string `json:"cron"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (ScheduleTriggerPayload) EventType() EventType { return EventScheduleTrigger }

type LLMCallPayload struct {
	Purpose  string        `json:"purpose"` // story, decision
	Model    string        `json:"model,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewEvent(payload.EventType(), source, toMap(payload))
}

// NewRunEvent creates a typed event tagged with the run id carried by ctx.
func NewRunEvent(ctx context.Context, source EventSource, payload EventPayload) Event {
	e := NewTypedEvent(source, payload)
	e.RunID = RunIDFromContext(ctx)
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event's payload into T.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
