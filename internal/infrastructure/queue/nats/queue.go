package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/infrastructure/resilience"
)

// Subjects names the NATS subjects the pipeline uses. Import and publish work
// is load-balanced across workers through queue groups; events and cancel
// signals fan out to every subscriber.
type Subjects struct {
	Import  string
	Publish string
	Cancel  string
	Events  string
}

// publishRequest is the publish work payload. The requested provider rides
// along so an explicit choice survives the queue hop.
type publishRequest struct {
	DocumentID string `json:"document_id"`
	Provider   string `json:"provider,omitempty"`
}

type Queue struct {
	conn     *nats.Conn
	subjects Subjects
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string, subjects Subjects) (*Queue, error) {
	return NewWithOptions(url, subjects, Options{})
}

func NewWithOptions(url string, subjects Subjects, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("content-publisher"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subjects: subjects,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) EnqueueImport(ctx context.Context, documentID string) error {
	return q.publish(ctx, q.subjects.Import, "nats.enqueue_import", []byte(documentID))
}

func (q *Queue) EnqueuePublish(ctx context.Context, documentID, providerName string) error {
	data, err := json.Marshal(publishRequest{DocumentID: documentID, Provider: providerName})
	if err != nil {
		return fmt.Errorf("encode publish request: %w", err)
	}
	return q.publish(ctx, q.subjects.Publish, "nats.enqueue_publish", data)
}

func (q *Queue) ConsumeImports(ctx context.Context, handler func(context.Context, string) error) error {
	return q.consume(ctx, q.subjects.Import, "importers", handler)
}

func (q *Queue) ConsumePublishes(ctx context.Context, handler func(context.Context, string, string) error) error {
	return q.consume(ctx, q.subjects.Publish, "publishers", func(handlerCtx context.Context, payload string) error {
		var req publishRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return fmt.Errorf("decode publish request: %w", err)
		}
		return handler(handlerCtx, req.DocumentID, req.Provider)
	})
}

// SignalCancel fans a cancel request out to every dispatcher instance; only
// the one holding the active run acts on it.
func (q *Queue) SignalCancel(ctx context.Context, documentID string) error {
	return q.publish(ctx, q.subjects.Cancel, "nats.signal_cancel", []byte(documentID))
}

func (q *Queue) SubscribeCancels(_ context.Context, handler func(context.Context, string)) (func(), error) {
	sub, err := q.conn.Subscribe(q.subjects.Cancel, func(msg *nats.Msg) {
		handler(context.Background(), string(msg.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe cancels: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// BroadcastEvent fans a change event out to push subscribers. Delivery is
// best-effort; poll consumers read the durable log directly.
func (q *Queue) BroadcastEvent(ctx context.Context, event domain.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	return q.publish(ctx, q.subjects.Events, "nats.broadcast_event", data)
}

func (q *Queue) SubscribeEvents(_ context.Context, handler func(context.Context, domain.ChangeEvent)) (func(), error) {
	sub, err := q.conn.Subscribe(q.subjects.Events, func(msg *nats.Msg) {
		var event domain.ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("event_decode_failed", "error", err)
			return
		}
		handler(context.Background(), event)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe events: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (q *Queue) publish(ctx context.Context, subject, operation string, data []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, operation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(operation, err)
}

func (q *Queue) consume(ctx context.Context, subject, group string, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			slog.Error("queue_handler_failed", "subject", subject, "payload", string(msg.Data), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
