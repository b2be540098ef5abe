package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/content-publisher/internal/core/domain"
)

// EventRepository reads the append-only change log. Seq is assigned by the
// database, so the cursor is monotonic per the write order observers care
// about.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) ListSince(ctx context.Context, cursor int64, limit int) ([]domain.ChangeEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT seq, type, document_id, payload, created_at
FROM change_events
WHERE seq > $1
ORDER BY seq ASC
LIMIT $2
`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("query change events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0, limit)
	for rows.Next() {
		var event domain.ChangeEvent
		var eventType string
		if err := rows.Scan(&event.Seq, &eventType, &event.DocumentID, &event.Payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change event: %w", err)
		}
		event.Type = domain.EventType(eventType)
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change events: %w", err)
	}
	return out, nil
}
