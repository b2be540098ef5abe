package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventDocumentCreated  EventType = "document_created"
	EventStatusTransition EventType = "status_transition"
	EventPublishStep      EventType = "publish_step"
	EventTaskClosed       EventType = "task_closed"
)

// ChangeEvent is one entry of the append-only change log. Seq is a monotonic
// cursor assigned by the store; consumers poll "since seq" or receive pushed
// copies, both reading the same log.
type ChangeEvent struct {
	Seq        int64           `json:"seq"`
	Type       EventType       `json:"type"`
	DocumentID string          `json:"document_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
