package monitor

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the API layer and consumed by the monitor.
// EventSessionInactive is emitted by the monitor's own sweep loop.
const (
	EventMemoryAccess    = "memory_access"
	EventSessionChange   = "session_change"
	EventSessionInactive = "session_inactive"
	EventKnowledgeUpdate = "knowledge_update"
	EventEmbeddingSearch = "embedding_search"
)

// ContextEvent is one observed operation flowing through the monitor queue.
type ContextEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Namespace string         `json:"namespace"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an event with a fresh id and timestamp.
func NewEvent(eventType, namespace string, payload map[string]any) *ContextEvent {
	return &ContextEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Namespace: namespace,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// payloadString extracts a string field from the event payload.
func (e *ContextEvent) payloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
