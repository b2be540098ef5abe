package domain

import "time"

// StatusTransition is one accepted edge of a document's lifecycle. Rows are
// append-only and totally ordered per document by acceptance time.
type StatusTransition struct {
	ID         int64             `json:"id"`
	DocumentID string            `json:"document_id"`
	FromStatus DocumentStatus    `json:"from_status"`
	ToStatus   DocumentStatus    `json:"to_status"`
	Actor      string            `json:"actor"`
	Reason     string            `json:"reason,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
