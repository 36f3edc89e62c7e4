package domain

import "time"

// EventType names an engine event.
type EventType string

const (
	EventTypeWorkflowStarted    EventType = "workflow.started"
	EventTypeWorkflowCompleted  EventType = "workflow.completed"
	EventTypeWorkflowFailed     EventType = "workflow.failed"
	EventTypeWorkflowCancelled  EventType = "workflow.cancelled"
	EventTypeWorkflowPaused     EventType = "workflow.paused"
	EventTypeWorkflowResumed    EventType = "workflow.resumed"
	EventTypeStepStarted        EventType = "step.started"
	EventTypeStepCompleted      EventType = "step.completed"
	EventTypeStepFailed         EventType = "step.failed"
	EventTypeManualIntervention EventType = "recovery.manual_intervention"
	EventTypePersistenceFailed  EventType = "store.persistence_failed"
)

// TopicWorkflowEvents is the bus topic every engine event is published on.
const TopicWorkflowEvents = "workflow.events"

// Event is published on the event bus.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	NodeID      string                 `json:"node_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}
