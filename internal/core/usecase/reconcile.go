package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// ReconcileUseCase periodically diffs the external folder listing against
// known documents and enqueues unseen or changed items for import. Absence of
// a previously seen item is not treated as intent: removed items are never
// auto-retired.
type ReconcileUseCase struct {
	repo   ports.DocumentRepository
	folder ports.FolderClient
	queue  ports.MessageQueue

	consecutiveFailures atomic.Int64
}

func NewReconcileUseCase(
	repo ports.DocumentRepository,
	folder ports.FolderClient,
	queue ports.MessageQueue,
) *ReconcileUseCase {
	return &ReconcileUseCase{
		repo:   repo,
		folder: folder,
		queue:  queue,
	}
}

// Run drives ReconcileOnce on a fixed interval until the context ends.
func (uc *ReconcileUseCase) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if enqueued, err := uc.ReconcileOnce(ctx); err != nil {
			slog.Error("reconcile_cycle_failed", "error", err, "consecutive_failures", uc.ConsecutiveFailures())
		} else if enqueued > 0 {
			slog.Info("reconcile_cycle", "enqueued", enqueued)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReconcileOnce runs a single reconciliation cycle and returns the number of
// items enqueued for import. A listing failure leaves all known documents
// untouched; it only bumps the failure counter surfaced as a health signal.
func (uc *ReconcileUseCase) ReconcileOnce(ctx context.Context) (int, error) {
	items, err := uc.folder.List(ctx)
	if err != nil {
		uc.consecutiveFailures.Add(1)
		return 0, fmt.Errorf("list folder: %w", err)
	}
	uc.consecutiveFailures.Store(0)

	enqueued := 0
	for _, item := range items {
		created, err := uc.reconcileItem(ctx, item)
		if err != nil {
			slog.Error("reconcile_item_failed", "item_id", item.ID, "error", err)
			continue
		}
		if created {
			enqueued++
		}
	}
	return enqueued, nil
}

func (uc *ReconcileUseCase) ConsecutiveFailures() int {
	return int(uc.consecutiveFailures.Load())
}

func (uc *ReconcileUseCase) reconcileItem(ctx context.Context, item ports.FolderItem) (bool, error) {
	existing, err := uc.repo.GetByExternalRef(ctx, item.ID)
	switch {
	case err == nil:
		return uc.reconcileKnown(ctx, existing, item)
	case domain.IsKind(err, domain.ErrNotFound):
		return true, uc.discover(ctx, item)
	default:
		return false, fmt.Errorf("lookup external ref: %w", err)
	}
}

// reconcileKnown re-enqueues a failed document whose external content changed
// since the last attempt, compared by fingerprint rather than name. Any other
// known document is skipped: in particular published and retired documents
// are never reopened by folder changes.
func (uc *ReconcileUseCase) reconcileKnown(ctx context.Context, doc *domain.Document, item ports.FolderItem) (bool, error) {
	if doc.Status != domain.StatusFailed {
		return false, nil
	}
	if doc.Fingerprint == item.Fingerprint {
		return false, nil
	}

	// Persist the new fingerprint before queueing so one change triggers
	// exactly one re-enqueue even across overlapping cycles.
	if err := uc.repo.UpdateFingerprint(ctx, doc.ID, item.Fingerprint); err != nil {
		return false, fmt.Errorf("update fingerprint: %w", err)
	}
	if _, err := uc.repo.Transition(ctx, doc.ID, domain.StatusFailed, domain.StatusDiscovered,
		domain.ActorSystem, domain.ReasonSourceChanged, map[string]string{"fingerprint": item.Fingerprint}); err != nil {
		return false, fmt.Errorf("reopen failed document: %w", err)
	}
	if err := uc.queue.EnqueueImport(ctx, doc.ID); err != nil {
		return false, fmt.Errorf("enqueue re-import: %w", err)
	}
	return true, nil
}

func (uc *ReconcileUseCase) discover(ctx context.Context, item ports.FolderItem) error {
	now := time.Now().UTC()
	doc := &domain.Document{
		ID:          uuid.NewString(),
		Title:       item.Name,
		Source:      domain.SourceFolderWatch,
		ExternalRef: item.ID,
		Fingerprint: item.Fingerprint,
		Status:      domain.StatusDiscovered,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return fmt.Errorf("create discovered document: %w", err)
	}
	if err := uc.queue.EnqueueImport(ctx, doc.ID); err != nil {
		return fmt.Errorf("enqueue import: %w", err)
	}
	return nil
}
