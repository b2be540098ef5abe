package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// EventRelayUseCase pushes change events from the durable log to the message
// queue. Push delivery is an adapter over the log: the write path only ever
// appends, and subscribers that need stronger guarantees poll the log
// directly with their own cursor.
type EventRelayUseCase struct {
	events ports.ChangeEventReader
	queue  ports.MessageQueue
	batch  int

	lastSeq atomic.Int64
}

func NewEventRelayUseCase(events ports.ChangeEventReader, queue ports.MessageQueue, batch int) *EventRelayUseCase {
	if batch <= 0 {
		batch = 100
	}
	return &EventRelayUseCase{events: events, queue: queue, batch: batch}
}

// Run relays events until the context ends. The cursor is process-local;
// after a restart subscribers may see events again, which is why payloads
// carry their sequence number.
func (uc *EventRelayUseCase) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := uc.RelayOnce(ctx); err != nil {
				slog.Error("event_relay_failed", "error", err)
			}
		}
	}
}

// RelayOnce drains everything past the cursor in batches. The cursor only
// advances past events that were broadcast, so a queue outage delays delivery
// instead of dropping events.
func (uc *EventRelayUseCase) RelayOnce(ctx context.Context) error {
	for {
		events, err := uc.events.ListSince(ctx, uc.lastSeq.Load(), uc.batch)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, event := range events {
			if err := uc.queue.BroadcastEvent(ctx, event); err != nil {
				return err
			}
			uc.lastSeq.Store(event.Seq)
		}
		if len(events) < uc.batch {
			return nil
		}
	}
}

// LastSeq reports the relay cursor, exposed on the worker health endpoint.
func (uc *EventRelayUseCase) LastSeq() int64 {
	return uc.lastSeq.Load()
}
