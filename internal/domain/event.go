package domain

import "time"

// EventType names a bus event.
type EventType string

const (
	EventTypeSessionStarted   EventType = "session.started"
	EventTypeSessionRouted    EventType = "session.routed"
	EventTypeSessionCompleted EventType = "session.completed"
	EventTypeSessionFailed    EventType = "session.failed"

	EventTypeProgress EventType = "progress.updated"

	EventTypeMasterStarted   EventType = "master.started"
	EventTypePhaseStarted    EventType = "master.phase_started"
	EventTypePhaseCompleted  EventType = "master.phase_completed"
	EventTypePhaseFailed     EventType = "master.phase_failed"
	EventTypePhaseTransition EventType = "master.transition"
	EventTypeMasterHalted    EventType = "master.halted"
	EventTypeMasterCompleted EventType = "master.completed"

	EventTypeTriggerReceived EventType = "trigger.received"
	EventTypeTriggerResume   EventType = "trigger.resume"
)

// Bus topics.
const (
	TopicSupervisor = "supervisor.events"
	TopicMaster     = "master.events"
	TopicTriggers   = "master.triggers"
	TopicProgress   = "progress.events"
)

// Event is the envelope carried by the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
